// +build !debug

package debug

// Hook, RunHook and RemoveHook are no-ops outside a debug build; hooks.go
// holds their debug-build counterparts.
func Hook(name string, f func(interface{})) {}

func RunHook(name string, context interface{}) {}

func RemoveHook(name string) {}
