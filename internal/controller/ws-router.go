package controller

import (
	"github.com/cowatch/cowatch/internal/protocol"
	"github.com/cowatch/cowatch/internal/session"
	"github.com/cowatch/cowatch/pkg/wsrouter"
)

func (c controller) getWSRouter() *wsrouter.WSRouter[*session.Session] {
	mux := wsrouter.New[*session.Session]()
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())

	mux.Handle(string(protocol.TypePlayback), wsrouter.Typed(c.handlePlayback))
	mux.Handle(string(protocol.TypeChat), wsrouter.Typed(c.handleChat))

	return mux
}
