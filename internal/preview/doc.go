// Package preview resolves how a stored document is shown inline.
//
// A Resolver classifies the file by extension, checks that the document is
// reachable, then walks an ordered chain of render strategies (direct frame,
// hosted conversion viewers) until one reports a load signal. Each attempt
// races the Loader against its own timeout; an error event, a timeout or a
// posted cross-context error advances the chain, and exhausting it leaves the
// surface in download-only mode.
//
// State lives in a Session owned by the hosting component. Every new load
// bumps the session token and cancels the previous run, so stale timers and
// late signals can never change the state of a newer session.
package preview
