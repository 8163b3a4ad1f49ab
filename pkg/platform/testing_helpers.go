package platform

// SetupSyncDispatch registers a dispatch function that runs callbacks inline,
// so event handlers observe the same ordering a host's UI thread would. The
// cleanup function should be testing.T.Cleanup or equivalent; it registers a
// teardown that clears the dispatcher.
//
//	platform.SetupSyncDispatch(t.Cleanup)
func SetupSyncDispatch(cleanup func(func())) {
	RegisterDispatch(func(cb func()) { cb() })
	cleanup(func() { RegisterDispatch(nil) })
}
