package session

// palette is a small set of readable, distinct colors cycled
// deterministically as clients join — presence color assignment has no
// fixed convention to follow, so this is the simplest thing that satisfies
// "deterministic color per client."
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#e6beff",
}

// colorForSeq deterministically maps a join sequence number to a palette
// entry, so the Nth client to ever join a document always gets the same
// color regardless of who else is currently connected.
func colorForSeq(n uint64) string {
	return palette[n%uint64(len(palette))]
}
