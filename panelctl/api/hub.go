package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/bringyour/proxypanel/panel"
)


const hubClientSendSize = 64
const hubWriteTimeout = 5 * time.Second


type EventType string

const (
	EventTypeState        EventType = "state"
	EventTypeNotification EventType = "notification"
	EventTypeModalOpen    EventType = "modalOpen"
	EventTypeModalClose   EventType = "modalClose"
)


type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}


var upgrader = websocket.Upgrader{
	// the panel listens on a local address
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}


type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}


// pushes panel events to every connected browser
// a Hub is also the web `panel.ModalSurface`
type Hub struct {
	clientsLock sync.Mutex
	clients     map[*hubClient]bool
}

func NewHub() *Hub {
	return &Hub{
		clients: map[*hubClient]bool{},
	}
}

func (self *Hub) OpenModal(session *panel.ModalSession) {
	self.Broadcast(&Event{
		Type: EventTypeModalOpen,
		Data: NewModalView(session),
	})
}

func (self *Hub) CloseModal(sessionId panel.Id) {
	self.Broadcast(&Event{
		Type: EventTypeModalClose,
		Data: map[string]any{
			"sessionId": sessionId,
		},
	})
}

// clients that cannot keep up are dropped
func (self *Hub) Broadcast(event *Event) {
	message, err := json.Marshal(event)
	if err != nil {
		glog.Errorf("[hub]encode %s = %s\n", event.Type, err)
		return
	}

	self.clientsLock.Lock()
	defer self.clientsLock.Unlock()

	for client := range self.clients {
		select {
		case client.send <- message:
		default:
			glog.Infof("[hub]drop slow client %s\n", client.conn.RemoteAddr())
			delete(self.clients, client)
			close(client.send)
		}
	}
}

func (self *Hub) ClientCount() int {
	self.clientsLock.Lock()
	defer self.clientsLock.Unlock()
	return len(self.clients)
}

// runs until the client disconnects
// `initialEvents` are sent before any broadcast
func (self *Hub) serve(w http.ResponseWriter, r *http.Request, initialEvents ...*Event) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[hub]upgrade failed = %s\n", err)
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan []byte, hubClientSendSize),
	}
	for _, event := range initialEvents {
		if message, err := json.Marshal(event); err == nil {
			client.send <- message
		}
	}

	func() {
		self.clientsLock.Lock()
		defer self.clientsLock.Unlock()
		self.clients[client] = true
	}()
	glog.V(1).Infof("[hub]connected %s\n", conn.RemoteAddr())

	go self.writeLoop(client)

	// browsers only send close frames
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	func() {
		self.clientsLock.Lock()
		defer self.clientsLock.Unlock()
		if self.clients[client] {
			delete(self.clients, client)
			close(client.send)
		}
	}()
	glog.V(1).Infof("[hub]disconnected %s\n", conn.RemoteAddr())
}

func (self *Hub) writeLoop(client *hubClient) {
	defer client.conn.Close()
	for message := range client.send {
		client.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	client.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// closes every client
func (self *Hub) Close() {
	self.clientsLock.Lock()
	defer self.clientsLock.Unlock()
	for client := range self.clients {
		close(client.send)
	}
	clear(self.clients)
}
