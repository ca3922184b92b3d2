package main

import (
	"fmt"
	"io"
)

// unknownCommandResponse sends an unknown command error to the client.
func (app *application) unknownCommandResponse(w io.Writer, commandName string) {
	_ = app.writeErrorResponse(w, fmt.Sprintf("ERR unknown command '%s'", commandName))
}

// wrongNumberOfArgsResponse sends a wrong number of arguments error.
func (app *application) wrongNumberOfArgsResponse(w io.Writer, commandName string) {
	_ = app.writeErrorResponse(w, fmt.Sprintf("ERR wrong number of arguments for '%s' command", commandName))
}

// precisionMismatchResponse sends the error for operations that combine
// sketches of different precision.
func (app *application) precisionMismatchResponse(w io.Writer) {
	_ = app.writeErrorResponse(w, "ERR sketches have different precision and cannot be combined")
}
