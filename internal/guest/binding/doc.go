// Package binding implements the low-level primitive groups a guest runtime
// reaches for through process.binding: filesystem, tty, timers, crypto and
// process lifecycle, plus the data and stub groups its bootstrap expects.
//
// Services here are plain Go over the guest's VFS, scheduler and outbound
// channel. Resources live in one Handles arena whose active index drives the
// scheduler's idle exit. The JavaScript surface is built elsewhere on top of
// these services.
package binding
