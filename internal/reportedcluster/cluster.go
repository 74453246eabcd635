// Package reportedcluster maintains the observer's in-memory view of the
// cluster, folded from a stream of status messages and reconciled against
// the shared store when the operator asks for a refresh.
package reportedcluster

import (
	"context"
	"fmt"
	"strings"

	"github.com/oriys/multischeduler/internal/protocol"
	"github.com/oriys/multischeduler/internal/store"
)

// ReportedPeer is one entry in the observer's view. Key is a dense,
// base-1 index into insertion order; it is reassigned whenever any peer is
// removed.
type ReportedPeer struct {
	Key       int
	Address   string
	Available bool
	Leading   bool
	Following string
}

// Refresher is the store dependency Refresh needs; satisfied by
// *store.Store.
type Refresher interface {
	DistinctAddressesByBirth(ctx context.Context) ([]store.AddressBirth, error)
}

// Cluster is not safe for concurrent use by itself; callers running a bus
// subscriber and an operator-input loop against the same Cluster must
// serialize access (a mutex is enough, see internal/observer).
type Cluster struct {
	order []string
	peers map[string]*ReportedPeer
}

// New returns an empty reported cluster.
func New() *Cluster {
	return &Cluster{peers: make(map[string]*ReportedPeer)}
}

// Consume applies a status message's primary update (and, for LEADER
// messages, the secondary following-update) to the cluster.
func (c *Cluster) Consume(msg protocol.StatusMessage) {
	recipients, updates := protocol.Updates(msg)
	for i, addr := range recipients {
		c.apply(c.peerFor(addr), updates[i])
	}
}

func (c *Cluster) peerFor(address string) *ReportedPeer {
	if p, ok := c.peers[address]; ok {
		return p
	}
	c.order = append(c.order, address)
	p := &ReportedPeer{Key: len(c.order), Address: address}
	c.peers[address] = p
	return p
}

func (c *Cluster) apply(p *ReportedPeer, u protocol.Update) {
	switch u.Kind {
	case protocol.UpdateStatus:
		switch u.Status {
		case protocol.Available:
			p.Available = true
		case protocol.Unavailable:
			p.Available = false
			p.Leading = false
			p.Following = ""
		case protocol.Leader:
			p.Leading = true
		}
	case protocol.UpdateFollowing:
		p.Following = u.Address
	}
}

// Remove deletes the peer at key and compacts the remaining keys to 1..N.
func (c *Cluster) Remove(key int) error {
	address, ok := c.addressForKey(key)
	if !ok {
		return fmt.Errorf("reportedcluster: no peer with key %d", key)
	}

	delete(c.peers, address)
	order := make([]string, 0, len(c.order)-1)
	for _, a := range c.order {
		if a != address {
			order = append(order, a)
		}
	}
	c.order = order
	for i, a := range c.order {
		c.peers[a].Key = i + 1
	}
	return nil
}

func (c *Cluster) addressForKey(key int) (string, bool) {
	for _, a := range c.order {
		if p, ok := c.peers[a]; ok && p.Key == key {
			return a, true
		}
	}
	return "", false
}

// PeerByKey returns the peer at the given operator-visible key.
func (c *Cluster) PeerByKey(key int) (ReportedPeer, bool) {
	addr, ok := c.addressForKey(key)
	if !ok {
		return ReportedPeer{}, false
	}
	return *c.peers[addr], true
}

// Peers returns peers in key order.
func (c *Cluster) Peers() []ReportedPeer {
	out := make([]ReportedPeer, 0, len(c.order))
	for _, a := range c.order {
		out = append(out, *c.peers[a])
	}
	return out
}

// Refresh reconciles the cluster from scratch against the shared store: the
// oldest address (by birth) is reported as leading, every other address as
// available. This is the only place the observer touches the store.
func (c *Cluster) Refresh(ctx context.Context, r Refresher) error {
	rows, err := r.DistinctAddressesByBirth(ctx)
	if err != nil {
		return fmt.Errorf("reportedcluster: refresh: %w", err)
	}

	c.order = nil
	c.peers = make(map[string]*ReportedPeer)

	for i, row := range rows {
		status := protocol.Available
		if i == 0 {
			status = protocol.Leader
		}
		c.Consume(protocol.New(row.Address, row.Address, status))
	}
	return nil
}

// Report renders a human-readable line per peer, in key order. Styling is a
// presentation concern, not part of the protocol.
func (c *Cluster) Report() string {
	var b strings.Builder
	for _, a := range c.order {
		p := c.peers[a]
		b.WriteString(formatPeer(p))
		b.WriteByte('\n')
	}
	return b.String()
}

func formatPeer(p *ReportedPeer) string {
	switch {
	case p.Leading:
		return fmt.Sprintf("Scheduler %d (%s) is leading.", p.Key, p.Address)
	case p.Available && p.Following != "":
		return fmt.Sprintf("Scheduler %d (%s) is available and following %s.", p.Key, p.Address, p.Following)
	case p.Available:
		return fmt.Sprintf("Scheduler %d (%s) is available.", p.Key, p.Address)
	default:
		return fmt.Sprintf("Scheduler %d (%s) is unavailable.", p.Key, p.Address)
	}
}
