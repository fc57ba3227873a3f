// Package twootr implements the broadcast core: credential-gated logon,
// posting, follow management and fan-out of posts to the live sessions of
// an author's followers.
//
// The core depends only on the ports declared in ports.go. Transports,
// credential stores, durable follow graphs and post logs are adapters that
// live in other packages.
//
// Concurrency model:
//   - The SessionRegistry holds at most one live Session per user.
//   - Every Session owns a bounded delivery queue drained by one goroutine,
//     so a slow receiver never stalls the author or other followers.
//   - A per-author lock covers sequence allocation and enqueue, so each
//     follower observes an author's posts in sequence order.
package twootr
