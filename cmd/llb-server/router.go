package main

import (
	"io"
	"strings"
)

// CommandHandler is the signature every command handler implements.
// Handlers write their response to w, typically a buffered writer
// wrapping the connection.
type CommandHandler func(w io.Writer, args []string)

// Router maps command names to handlers.
type Router struct {
	handlers map[string]CommandHandler
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]CommandHandler),
	}
}

// Handle registers a handler. Names are case-insensitive.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Dispatch looks up and executes the handler for a parsed command.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}

	commandName := strings.ToUpper(parts[0])
	app.metrics.CommandProcessed(commandName)

	handler, found := r.handlers[commandName]
	if !found {
		app.unknownCommandResponse(w, commandName)
		return
	}

	handler(w, parts[1:])
}
