package launcher

// Observer receives lifecycle and output notifications for every child of a
// launcher. Callbacks run on the goroutine driving the launcher and must not
// block.
type Observer interface {
	ChildStarted(info ChildInfo)
	ChildOutput(label, line string)
	ChildExited(label string, code int)
}

// NopObserver implements Observer with no-op methods. Embed it to implement a
// subset of the callbacks.
type NopObserver struct{}

func (NopObserver) ChildStarted(ChildInfo)     {}
func (NopObserver) ChildOutput(string, string) {}
func (NopObserver) ChildExited(string, int)    {}

var _ Observer = NopObserver{}
