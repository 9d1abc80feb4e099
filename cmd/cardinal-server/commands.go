package main

// commands creates a new router and registers all the application's command
// handlers. This is the single source of truth for what the server supports.
func (app *application) commands() *Router {
	router := NewRouter()

	// Generic Commands
	router.Handle("PING", app.handlePing)
	router.Handle("DEL", app.handleDel)
	router.Handle("INFO", app.handleInfo)

	// Persistence Control
	router.Handle("SAVE", app.handleSave)

	// Cardinality Sketches
	router.Handle("SK.CREATE", app.handleSketchCreate)
	router.Handle("SK.ADD", app.handleSketchAdd)
	router.Handle("SK.COUNT", app.handleSketchCount)
	router.Handle("SK.MERGE", app.handleSketchMerge)
	router.Handle("SK.INFO", app.handleSketchInfo)
	router.Handle("SK.RESET", app.handleSketchReset)

	return router
}
