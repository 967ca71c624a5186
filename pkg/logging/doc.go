// Package logging provides a structured logging system for marvin-mcp with
// unified log handling built on Go's standard slog package.
//
// All log entries carry a subsystem identifier ("OAuth", "Session", "Marvin",
// "Store", ...) so operators can filter the components they care about:
//
//	logging.Init(logging.LevelInfo, os.Stdout)
//	logging.Info("OAuth", "issued authorization code for client %s", clientID)
//	logging.Error("Store", err, "failed to persist refresh token")
//
// Level filtering happens at the handler, so filtered-out messages cost no
// allocations.
package logging
