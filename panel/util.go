package panel

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)


// makes a copy of the list on update
// callbacks are ordered by add time since callback ids are ulids
type CallbackList[T any] struct {
	mutex sync.Mutex
	callbacks map[Id]T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[Id]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackIds := maps.Keys(self.callbacks)
	slices.SortFunc(callbackIds, func(a Id, b Id) int {
		if a.LessThan(b) {
			return -1
		} else if b.LessThan(a) {
			return 1
		} else {
			return 0
		}
	})
	callbacks := make([]T, 0, len(callbackIds))
	for _, callbackId := range callbackIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := NewId()
	nextCallbacks := maps.Clone(self.callbacks)
	nextCallbacks[callbackId] = callback
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId Id) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	nextCallbacks := maps.Clone(self.callbacks)
	delete(nextCallbacks, callbackId)
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}
