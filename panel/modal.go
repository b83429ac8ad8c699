package panel

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
)


// Modal sessions:
// - the controller is Closed or Open. There is at most one live session.
// - `ShowModal` while Open replaces the live session. The replaced session's
//   result channel never receives.
// - closing resolves the result channel exactly once and returns to Closed
// - there is no timeout. A session stays open until closed or replaced.


var ErrModalCanceled = errors.New("Modal canceled.")
var ErrModalReplaced = errors.New("Modal replaced by a newer modal.")


type ModalOptions struct {
	ConfirmLabel string `json:"confirmLabel,omitempty"`
	CancelLabel  string `json:"cancelLabel,omitempty"`
}

func DefaultModalOptions() *ModalOptions {
	return &ModalOptions{
		ConfirmLabel: "OK",
		CancelLabel:  "Cancel",
	}
}


// the result cell shared between the surface that collects the input and
// the workflow that reads it back after the modal resolves
type ModalInput struct {
	mutex sync.Mutex

	Placeholder string
	Multiline   bool

	value string
}

func NewModalInput(placeholder string, multiline bool) *ModalInput {
	return &ModalInput{
		Placeholder: placeholder,
		Multiline:   multiline,
	}
}

func (self *ModalInput) SetValue(value string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.value = value
}

func (self *ModalInput) Value() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.value
}


type ModalContent struct {
	Title string
	Body  string
	// nil when the modal is a plain confirm
	Input *ModalInput
}


type ModalSession struct {
	SessionId Id
	Content   *ModalContent
	Options   *ModalOptions

	result chan bool
	// closed when a newer session replaces this one
	replaced chan struct{}
}


// handed to the render function so the content can close its own session
type ModalSelf struct {
	SessionId Id

	controller *ModalController
}

func (self *ModalSelf) Close(result bool) bool {
	return self.controller.CloseSession(self.SessionId, result)
}


type ModalRenderFunction func(self *ModalSelf) *ModalContent


// where modal sessions are shown to the user
// both calls are made outside the controller lock and may call back into the controller
type ModalSurface interface {
	OpenModal(session *ModalSession)
	CloseModal(sessionId Id)
}


// for headless use. Sessions stay open until closed through the controller.
type NoModalSurface struct {
}

func (self *NoModalSurface) OpenModal(session *ModalSession) {
}

func (self *NoModalSurface) CloseModal(sessionId Id) {
}


type ModalController struct {
	surface ModalSurface

	stateLock sync.Mutex
	session   *ModalSession
}

func NewModalController(surface ModalSurface) *ModalController {
	if surface == nil {
		surface = &NoModalSurface{}
	}
	return &ModalController{
		surface: surface,
	}
}

// the returned channel receives `true` on confirm and `false` on cancel
// the channel is never closed
func (self *ModalController) ShowModal(render ModalRenderFunction, options *ModalOptions) chan bool {
	return self.showModal(render, options).result
}

func (self *ModalController) showModal(render ModalRenderFunction, options *ModalOptions) *ModalSession {
	if options == nil {
		options = DefaultModalOptions()
	}

	sessionId := NewId()
	modalSelf := &ModalSelf{
		SessionId:  sessionId,
		controller: self,
	}
	var content *ModalContent
	if r := HandleError(func() {
		content = render(modalSelf)
	}); r != nil {
		glog.Errorf("[modal]render %s failed = %s\n", sessionId, r)
	}
	if content == nil {
		content = &ModalContent{}
	}

	session := &ModalSession{
		SessionId: sessionId,
		Content:   content,
		Options:   options,
		result:    make(chan bool, 1),
		replaced:  make(chan struct{}),
	}

	var replacedSession *ModalSession
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		replacedSession = self.session
		self.session = session
	}()

	if replacedSession != nil {
		glog.V(LogLevelDebug).Infof("[modal]%s replaced by %s\n", replacedSession.SessionId, sessionId)
		close(replacedSession.replaced)
	}
	glog.V(LogLevelDebug).Infof("[modal]open %s \"%s\"\n", sessionId, content.Title)
	self.surface.OpenModal(session)
	return session
}

// shows a modal and blocks until it resolves
// returns `ErrModalReplaced` when a newer modal replaces this one, and closes the
// session with `false` when `ctx` is done first
func (self *ModalController) ShowModalSync(
	ctx context.Context,
	render ModalRenderFunction,
	options *ModalOptions,
) (bool, error) {
	session := self.showModal(render, options)
	select {
	case result := <-session.result:
		return result, nil
	case <-session.replaced:
		return false, ErrModalReplaced
	case <-ctx.Done():
		self.CloseSession(session.SessionId, false)
		return false, ctx.Err()
	}
}

// no-op when closed
func (self *ModalController) Close(result bool) {
	var session *ModalSession
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		session = self.session
		self.session = nil
	}()

	if session != nil {
		self.resolve(session, result)
	}
}

// closes only when `sessionId` is still the live session
func (self *ModalController) CloseSession(sessionId Id, result bool) bool {
	var session *ModalSession
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.session != nil && self.session.SessionId == sessionId {
			session = self.session
			self.session = nil
		}
	}()

	if session == nil {
		return false
	}
	self.resolve(session, result)
	return true
}

// the user cancel gesture
func (self *ModalController) Cancel() {
	self.Close(false)
}

func (self *ModalController) IsOpen() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.session != nil
}

// nil when closed
func (self *ModalController) Session() *ModalSession {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.session
}

func (self *ModalController) resolve(session *ModalSession, result bool) {
	glog.V(LogLevelDebug).Infof("[modal]close %s = %t\n", session.SessionId, result)
	// capacity 1 and resolved once
	session.result <- result
	self.surface.CloseModal(session.SessionId)
}
