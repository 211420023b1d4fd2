package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorgonia/cpc"
	"github.com/gorilla/websocket"
)

// Encoder streams progress records as JSON over a websocket, according to the cpc.ProgressEncoder interface.
// Records are dropped while nobody is listening.
type Encoder struct {
	progress chan cpc.Progress
	done     chan struct{}
}

var upgrader = websocket.Upgrader{} // use default options

func (enc *Encoder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print("upgrade:", err)
		return
	}
	defer c.Close()
	for {
		var p cpc.Progress
		select {
		case p = <-enc.progress:
		case <-enc.done:
			c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		case <-r.Context().Done():
			return
		}
		b, err := json.Marshal(p)
		if err != nil {
			log.Println("marshal:", err)
			return
		}
		if err = c.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Println("write:", err)
			return
		}
	}
}

// NewEncoder buffers up to n records.
func NewEncoder(n int) *Encoder {
	return &Encoder{
		progress: make(chan cpc.Progress, n),
		done:     make(chan struct{}),
	}
}

// Encode a progress record
func (enc *Encoder) Encode(p cpc.Progress) error {
	select {
	case enc.progress <- p:
	default:
	}
	return nil
}

// Flush closes the connected streams.
func (enc *Encoder) Flush() error {
	select {
	case <-enc.done:
	default:
		close(enc.done)
	}
	return nil
}
