package main

// commands creates the router and registers every command the server
// supports. This is the single source of truth for the command surface.
func (app *application) commands() *Router {
	router := NewRouter()

	// Generic
	router.Handle("PING", app.handlePing)
	router.Handle("DEL", app.handleDel)
	router.Handle("MEMORY", app.handleMemory)
	router.Handle("INFO", app.handleInfo)

	// Persistence control
	router.Handle("COMPACT", app.handleCompact)

	// LogLog-Beta sketches
	router.Handle("LLB.INIT", app.handleLLBInit)
	router.Handle("LLB.ADD", app.handleLLBAdd)
	router.Handle("LLB.COUNT", app.handleLLBCount)
	router.Handle("LLB.MERGE", app.handleLLBMerge)
	router.Handle("LLB.PRECISION", app.handleLLBPrecision)

	return router
}
