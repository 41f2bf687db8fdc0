// Package tui provides the terminal progress display for mosaic runs.
//
// The display is read-only. It is fed engine events and shows the current
// phase, per-task status and a short activity log. The first q or Ctrl+C
// requests a graceful stop; the second leaves the display.
//
// Usage:
//
//	program, app := tui.NewRunProgram(source, stopper.Stop, 100*time.Millisecond)
//	go tui.Forward(engine.Events(), program)
//	go func() {
//	    report, err := engine.Run(ctx, source)
//	    program.Send(tui.DoneMsg{Report: report, Err: err})
//	}()
//	program.Run()
package tui
