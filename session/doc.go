// Package session supervises one running terminal-sharing process.
//
// # Overview
//
// A Session owns a spawned child process, the read end of its output pipe and
// a reader goroutine that turns the byte stream into a live display surface.
// Sessions do not know about the registry that holds them: when a session
// decides it should end it asks its owner through the OnExpire callback and
// keeps draining output until the owner closes it.
//
// # Lifecycle
//
//  1. New spawns the process. A spawn failure returns ErrSpawn and leaves
//     nothing behind.
//  2. Start launches the reader. The owner calls it once the session is
//     visible to others (for example after registry insertion).
//  3. The reader renders each chunk of output. When the deadline passes or
//     the detector fires, the session moves to expiring and calls OnExpire
//     exactly once. The owner closes the session from another goroutine.
//  4. Close kills the process, joins the reader and releases the pipe. It is
//     safe to call more than once; later calls return the first result.
//
// # Rendering
//
// Every iteration renders the whole frame: a status header followed by a
// fenced block of exactly Lines lines. When output ends the header switches
// to "Session expired." and the surface's Close action is disabled.
package session
