// Package application provides application initialization and dependency wiring.
// It opens the configured storage adapter and creates the counter service,
// handlers, router and HTTP server, keeping the main package focused on CLI
// parsing and orchestration.
package application
