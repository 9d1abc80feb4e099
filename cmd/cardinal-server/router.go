package main

import (
	"io"
	"strings"
)

// CommandHandler is the signature every command handler implements.
// Handlers write responses to the provided io.Writer, typically a buffered
// writer wrapping the connection.
type CommandHandler func(w io.Writer, args []string)

// Router maps command names to their handlers.
type Router struct {
	handlers map[string]CommandHandler
}

// NewRouter creates a new, empty router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]CommandHandler),
	}
}

// Handle registers a new command handler. Lookup is case-insensitive.
func (r *Router) Handle(name string, handler CommandHandler) {
	r.handlers[strings.ToUpper(name)] = handler
}

// Dispatch finds the handler for a command and executes it.
func (r *Router) Dispatch(app *application, w io.Writer, parts []string) {
	if len(parts) == 0 {
		return
	}

	commandName := strings.ToUpper(parts[0])
	args := parts[1:]

	handler, found := r.handlers[commandName]
	if !found {
		app.metrics.CommandsTotal.WithLabelValues("unknown").Inc()
		app.unknownCommandResponse(w, commandName)
		return
	}

	app.metrics.TotalCommands.Add(1)
	app.metrics.CommandsTotal.WithLabelValues(commandName).Inc()

	handler(w, args)
}
