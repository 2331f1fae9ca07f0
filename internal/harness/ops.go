package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/artifact"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/crdt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/governance"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/graph"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// opFunc executes a step and returns its result in trace form.
type opFunc func(ctx context.Context, h *Harness, step Step) (map[string]any, error)

var operations map[string]opFunc

func init() {
	operations = map[string]opFunc{
		"create_artifact": opCreateArtifact,
		"update_artifact": opUpdateArtifact,
		"delete_artifact": opDeleteArtifact,
		"get_artifact":    opGetArtifact,
		"history":         opHistory,
		"link":            opLink,
		"unlink":          opUnlink,
		"traverse":        opTraverse,
		"outdated":        opOutdated,
		"check_dag":       opCheckDAG,
		"join":            opJoin,
		"insert":          opInsert,
		"delete_text":     opDeleteText,
		"leave":           opLeave,
		"text":            opText,
		"compact":         opCompact,
		"restart":         opRestart,
		"presence":        opPresence,
		"verify":          opVerify,
		"tamper":          opTamper,
		"set_gate":        opSetGate,
		"advance_clock":   opAdvanceClock,
	}
}

func opCreateArtifact(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	typ, err := argString(step.Args, "type")
	if err != nil {
		return nil, err
	}
	owner := optString(step.Args, "owner", step.Actor)
	metadata, err := optObject(step.Args, "metadata")
	if err != nil {
		return nil, err
	}
	a, err := h.artifacts.Create(ctx, step.Actor, artifact.CreateInput{
		Type:     ir.ArtifactType(typ),
		OrgID:    optString(step.Args, "org", h.scenario.Org),
		OwnerID:  owner,
		PHIRisk:  optBool(step.Args, "phi_risk"),
		Metadata: metadata,
		Content:  optString(step.Args, "content", ""),
	})
	if err != nil {
		return nil, err
	}
	h.bind(step.As, a.ID)
	return h.artifactResult(a), nil
}

func opUpdateArtifact(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	ref, err := argString(step.Args, "ref")
	if err != nil {
		return nil, err
	}
	var patch artifact.Patch
	if v, ok := step.Args["content"]; ok {
		s := fmt.Sprint(v)
		patch.Content = &s
	}
	if v, ok := step.Args["phi_risk"].(bool); ok {
		patch.PHIRisk = &v
	}
	if patch.Metadata, err = optObject(step.Args, "metadata"); err != nil {
		return nil, err
	}
	a, err := h.artifacts.Update(ctx, step.Actor, h.resolve(ref), patch)
	if err != nil {
		return nil, err
	}
	return h.artifactResult(a), nil
}

func opDeleteArtifact(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	ref, err := argString(step.Args, "ref")
	if err != nil {
		return nil, err
	}
	a, err := h.artifacts.SoftDelete(ctx, step.Actor, h.resolve(ref))
	if err != nil {
		return nil, err
	}
	return h.artifactResult(a), nil
}

func opGetArtifact(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	ref, err := argString(step.Args, "ref")
	if err != nil {
		return nil, err
	}
	a, err := h.artifacts.Get(ctx, h.resolve(ref), artifact.GetOptions{IncludeDeleted: optBool(step.Args, "include_deleted")})
	if err != nil {
		return nil, err
	}
	return h.artifactResult(a), nil
}

func (h *Harness) artifactResult(a ir.Artifact) map[string]any {
	return map[string]any{
		"id":       h.name(a.ID),
		"type":     string(a.Type),
		"version":  a.Version,
		"phi_risk": a.PHIRisk,
		"deleted":  a.Deleted(),
	}
}

func opHistory(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	ref, err := argString(step.Args, "ref")
	if err != nil {
		return nil, err
	}
	entries, err := h.artifacts.History(ctx, h.resolve(ref))
	if err != nil {
		return nil, err
	}
	events := make([]any, 0, len(entries))
	for _, e := range entries {
		events = append(events, string(e.EventType))
	}
	return map[string]any{"events": events}, nil
}

func opLink(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	source, err := argString(step.Args, "source")
	if err != nil {
		return nil, err
	}
	target, err := argString(step.Args, "target")
	if err != nil {
		return nil, err
	}
	relation, err := argString(step.Args, "relation")
	if err != nil {
		return nil, err
	}
	edge, err := h.graph.Link(ctx, step.Actor, graph.LinkInput{
		SourceID: h.resolve(source),
		TargetID: h.resolve(target),
		Relation: ir.Relation(relation),
	})
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) && e.Code == errs.CodeCycle {
			if path, ok := e.Details["path"].([]string); ok {
				return map[string]any{"path": h.namesOf(path)}, err
			}
		}
		return nil, err
	}
	h.bind(step.As, edge.ID)
	return map[string]any{
		"edge":     h.name(edge.ID),
		"source":   h.name(edge.SourceID),
		"target":   h.name(edge.TargetID),
		"relation": string(edge.Relation),
	}, nil
}

func opUnlink(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	ref, err := argString(step.Args, "ref")
	if err != nil {
		return nil, err
	}
	edge, err := h.graph.Unlink(ctx, step.Actor, h.resolve(ref))
	if err != nil {
		return nil, err
	}
	return map[string]any{"edge": h.name(edge.ID)}, nil
}

func opTraverse(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	root, err := argString(step.Args, "root")
	if err != nil {
		return nil, err
	}
	depth, err := optInt(step.Args, "depth")
	if err != nil {
		return nil, err
	}
	dir := ir.Direction(optString(step.Args, "direction", ""))
	sg, err := h.graph.Traverse(ctx, h.resolve(root), dir, int(depth))
	if err != nil {
		return nil, err
	}
	nodes := make([]any, 0, len(sg.Nodes))
	depths := make(map[string]any, len(sg.Nodes))
	for _, n := range sg.Nodes {
		alias := h.name(n.Artifact.ID)
		nodes = append(nodes, alias)
		depths[alias] = int64(n.Depth)
	}
	return map[string]any{
		"nodes":     nodes,
		"depths":    depths,
		"edges":     int64(len(sg.Edges)),
		"truncated": sg.Truncated,
	}, nil
}

func opOutdated(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	ref, err := argString(step.Args, "ref")
	if err != nil {
		return nil, err
	}
	report, err := h.graph.IsOutdated(ctx, h.resolve(ref))
	if err != nil {
		return nil, err
	}
	stale := make([]any, 0, len(report.Stale))
	for _, s := range report.Stale {
		stale = append(stale, h.name(s.UpstreamID))
	}
	return map[string]any{"outdated": report.Outdated, "stale": stale}, nil
}

func opCheckDAG(ctx context.Context, h *Harness, _ Step) (map[string]any, error) {
	report, err := h.graph.CheckIntegrity(ctx, h.scenario.Org)
	if err != nil {
		return nil, err
	}
	cycles := make([]any, 0, len(report.Cycles))
	for _, c := range report.Cycles {
		path := make([]any, 0, len(c.Path))
		for _, id := range c.Path {
			path = append(path, h.name(id))
		}
		cycles = append(cycles, path)
	}
	return map[string]any{
		"acyclic": report.Acyclic,
		"nodes":   int64(report.Nodes),
		"edges":   int64(report.Edges),
		"cycles":  cycles,
	}, nil
}

func opJoin(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	room, participant, err := roomArgs(step)
	if err != nil {
		return nil, err
	}
	session, err := h.collab.Join(ctx, h.resolve(room), participant, presence.Attributes{DisplayName: participant})
	if err != nil {
		return nil, err
	}
	p := &peer{room: room, participant: participant, session: session}
	if err := h.resync(ctx, p); err != nil {
		return nil, err
	}
	h.peers[room+"/"+participant] = p
	return map[string]any{"text": p.doc.Text()}, nil
}

// resync replaces a peer's replica with the room's current state.
func (h *Harness) resync(ctx context.Context, p *peer) error {
	p.doc = crdt.New(p.participant)
	reply, err := p.session.Sync(ctx, p.doc.StateVector())
	if err != nil {
		return err
	}
	u, err := crdt.Decode(reply.Update)
	if err != nil {
		return err
	}
	_, err = p.doc.Apply(u)
	return err
}

func opInsert(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	p, err := h.peerFor(step)
	if err != nil {
		return nil, err
	}
	index, err := optInt(step.Args, "index")
	if err != nil {
		return nil, err
	}
	text, err := argString(step.Args, "text")
	if err != nil {
		return nil, err
	}
	u, err := p.doc.Insert(int(index), text)
	if err != nil {
		return nil, err
	}
	return h.submit(ctx, p, u)
}

func opDeleteText(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	p, err := h.peerFor(step)
	if err != nil {
		return nil, err
	}
	index, err := optInt(step.Args, "index")
	if err != nil {
		return nil, err
	}
	length, err := optInt(step.Args, "length")
	if err != nil {
		return nil, err
	}
	u, err := p.doc.Delete(int(index), int(length))
	if err != nil {
		return nil, err
	}
	return h.submit(ctx, p, u)
}

// submit sends a local edit. A rejected edit is rolled back by resyncing
// the replica.
func (h *Harness) submit(ctx context.Context, p *peer, u crdt.Update) (map[string]any, error) {
	raw, err := crdt.Encode(u)
	if err != nil {
		return nil, err
	}
	ack, err := p.session.Update(ctx, raw)
	if err != nil {
		if rerr := h.resync(ctx, p); rerr != nil {
			return nil, fmt.Errorf("resync after rejected update: %w", rerr)
		}
		return nil, err
	}
	return map[string]any{"clock": ack.Clock, "text": p.doc.Text()}, nil
}

func opLeave(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	p, err := h.peerFor(step)
	if err != nil {
		return nil, err
	}
	delete(h.peers, p.room+"/"+p.participant)
	if err := p.session.Leave(ctx); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func opText(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	room, err := argString(step.Args, "room")
	if err != nil {
		return nil, err
	}
	text, clock, err := h.collab.Text(ctx, h.resolve(room))
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": text, "clock": clock}, nil
}

func opCompact(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	room, err := argString(step.Args, "room")
	if err != nil {
		return nil, err
	}
	retention, err := optInt(step.Args, "retention")
	if err != nil {
		return nil, err
	}
	res, err := h.collab.Compact(ctx, step.Actor, h.resolve(room), retention)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"snapshot_clock":    res.SnapshotClock,
		"cutoff":            res.Cutoff,
		"deleted_updates":   res.DeletedUpdates,
		"deleted_snapshots": res.DeletedSnapshots,
	}, nil
}

// opRestart closes every room, as a process shutdown would, and starts a
// fresh document engine over the same store.
func opRestart(ctx context.Context, h *Harness, _ Step) (map[string]any, error) {
	rooms := int64(len(h.collab.Rooms()))
	if err := h.collab.Shutdown(ctx); err != nil {
		return nil, err
	}
	h.peers = make(map[string]*peer)
	h.collab = h.newCollab()
	return map[string]any{"closed_rooms": rooms}, nil
}

func opPresence(_ context.Context, h *Harness, step Step) (map[string]any, error) {
	room, err := argString(step.Args, "room")
	if err != nil {
		return nil, err
	}
	records := h.tracker.Participants(h.resolve(room))
	names := make([]any, 0, len(records))
	for _, r := range records {
		names = append(names, r.ParticipantID)
	}
	return map[string]any{"participants": names}, nil
}

func opVerify(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	scope := optString(step.Args, "scope", h.orgScope())
	report, err := h.ledger.Verify(ctx, scope)
	if err != nil && !errs.IsTamper(err) {
		return nil, err
	}
	res := map[string]any{
		"valid":    report.Valid,
		"entries":  int64(report.Entries),
		"head_seq": report.HeadSeq,
	}
	if !report.Valid {
		divergent := make([]any, 0, len(report.Divergent))
		for _, seq := range report.Divergent {
			divergent = append(divergent, seq)
		}
		res["first_divergence"] = report.FirstDivergence
		res["divergent"] = divergent
	}
	return res, err
}

// opTamper rewrites one column of a stored audit entry behind the
// ledger's back.
func opTamper(ctx context.Context, h *Harness, step Step) (map[string]any, error) {
	scope := optString(step.Args, "scope", h.orgScope())
	seq, err := optInt(step.Args, "seq")
	if err != nil {
		return nil, err
	}
	column, err := argString(step.Args, "column")
	if err != nil {
		return nil, err
	}
	if !validIdentifier.MatchString(column) {
		return nil, fmt.Errorf("invalid column %q", column)
	}
	value := optString(step.Args, "value", "")
	res, err := h.store.DB().ExecContext(ctx,
		`UPDATE audit_entries SET `+column+` = ? WHERE scope_id = ? AND seq = ?`, value, scope, seq)
	if err != nil {
		return nil, fmt.Errorf("tamper: %w", err)
	}
	n, _ := res.RowsAffected()
	return map[string]any{"rows": n}, nil
}

func opSetGate(_ context.Context, h *Harness, step Step) (map[string]any, error) {
	mode, err := argString(step.Args, "mode")
	if err != nil {
		return nil, err
	}
	switch governance.Mode(mode) {
	case governance.ModeAllow, governance.ModeBlock:
	default:
		return nil, fmt.Errorf("unknown gate mode %q", mode)
	}
	h.gate.SetMode(governance.Mode(mode))
	return map[string]any{"mode": mode}, nil
}

func opAdvanceClock(_ context.Context, h *Harness, step Step) (map[string]any, error) {
	seconds, err := optInt(step.Args, "seconds")
	if err != nil {
		return nil, err
	}
	h.clock.Advance(time.Duration(seconds) * time.Second)
	return map[string]any{}, nil
}

func roomArgs(step Step) (room, participant string, err error) {
	if room, err = argString(step.Args, "room"); err != nil {
		return "", "", err
	}
	participant = optString(step.Args, "participant", step.Actor)
	return room, participant, nil
}

func (h *Harness) peerFor(step Step) (*peer, error) {
	room, participant, err := roomArgs(step)
	if err != nil {
		return nil, err
	}
	p, ok := h.peers[room+"/"+participant]
	if !ok {
		return nil, fmt.Errorf("%s has not joined room %s", participant, room)
	}
	return p, nil
}

func (h *Harness) namesOf(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = h.name(id)
	}
	return out
}

// liveEdgeCount is used by the edge_count assertion.
func (h *Harness) liveEdgeCount(ctx context.Context) (int, error) {
	edges, err := h.store.LiveEdges(ctx, h.scenario.Org)
	if err != nil {
		return 0, err
	}
	return len(edges), nil
}

// auditEvents returns the event types of a scope in seq order.
func (h *Harness) auditEvents(ctx context.Context, scope string) ([]string, error) {
	entries, err := h.ledger.Entries(ctx, scope, store.AuditFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.EventType)
	}
	return out, nil
}
