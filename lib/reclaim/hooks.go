package reclaim

// SeverLinks clears every link of r through the engine, so the former targets lose
// their counted references. With concurrent set each link is cleared with a CAS loop,
// since repairing threads may still retarget the links. Containers without extra
// bookkeeping can use it as their Sever hook.
func SeverLinks[T any](e Engine[T], r Ref, concurrent bool) {
	n := e.Node(r)
	if n == nil {
		return
	}
	for i := 0; i < n.Links(); i++ {
		l := n.Link(i)
		if !concurrent {
			e.StoreRef(l, Nil)
			continue
		}
		for {
			cur := l.LoadTagged()
			if cur.Ref().IsNil() || e.CasTagged(l, cur, Nil) {
				break
			}
		}
	}
}
