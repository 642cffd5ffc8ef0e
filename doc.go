// Package statefultask provides a cooperative stateful-task scheduling
// runtime: engines that multiplex many long-lived tasks onto a small set of
// host goroutines, together with the timer service used to wake sleeping
// tasks.
//
// The runtime is designed to be embedded in host applications. End-users
// typically interact with it via the high-level Service façade exposed by
// the root package:
//
//	srv, _ := statefultask.New()
//	rt := srv.Runtime()
//	main := rt.Engine("main")
//	task := rt.NewTask("ping", engine.ActorFunc(func(t *engine.Task, run engine.RunType) {
//		// one cooperative step; yield, wait or finish before returning
//		t.Finish()
//	}))
//	task.Run(main)
//	main.Mainloop()
//
// For details see the engine and timer sub-packages.
package statefultask
