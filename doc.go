// Package peerquery runs a scatter-gather query node over a publish/subscribe bus.
//
// Every node answers queries broadcast by its peers and can coordinate its own:
// a submitted query is answered locally and broadcast to all peers at once, and
// their responses are merged for as long as the caller's timeout allows.
// Nodes never answer their own broadcast.
//
//	node, _ := peerquery.New(ctx,
//	    peerquery.WithRedis("", "localhost:6379"),
//	    peerquery.WithNodeID("node-a"),
//	)
//	defer node.Close()
//	_ = node.Start(ctx)
//
//	lines, err := node.Submit(ctx, "ping", 2*time.Second)
//
// Nodes in one process can share an in-process bus:
//
//	b := peerquery.NewMemoryBus()
//	a, _ := peerquery.New(ctx, peerquery.WithMemoryBus(b), peerquery.WithNodeID("a"))
//	c, _ := peerquery.New(ctx, peerquery.WithMemoryBus(b), peerquery.WithNodeID("c"))
package peerquery
