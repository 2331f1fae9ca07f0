package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/collab"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/crdt"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/errs"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ir"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
)

type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
	doc  *crdt.Doc
}

func (f fixture) dial(t *testing.T, roomID, actor string) (*wsPeer, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/rooms/" + roomID + "?display_name=" + actor
	header := http.Header{}
	header.Set("X-Actor-ID", actor)
	header.Set("X-Org-ID", "org-1")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { conn.Close() })
	return &wsPeer{t: t, conn: conn, doc: crdt.New(actor)}, resp, nil
}

func (p *wsPeer) send(m collab.Message) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(m))
}

func (p *wsPeer) recv() collab.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m collab.Message
	require.NoError(p.t, p.conn.ReadJSON(&m))
	return m
}

func (p *wsPeer) sync() {
	p.t.Helper()
	p.send(collab.Message{Type: collab.MsgSyncStep1, StateVector: p.doc.StateVector()})
	m := p.recv()
	require.Equal(p.t, collab.MsgSyncStep2, m.Type)
	p.apply(m.Update)
}

func (p *wsPeer) apply(raw json.RawMessage) {
	p.t.Helper()
	u, err := crdt.Decode(raw)
	require.NoError(p.t, err)
	_, err = p.doc.Apply(u)
	require.NoError(p.t, err)
}

func (p *wsPeer) insert(index int, text string) {
	p.t.Helper()
	u, err := p.doc.Insert(index, text)
	require.NoError(p.t, err)
	raw, err := crdt.Encode(u)
	require.NoError(p.t, err)
	p.send(collab.Message{Type: collab.MsgUpdate, Update: raw})
}

func TestWebSocket_RoomRoundTrip(t *testing.T) {
	f := newFixture(t)
	doc := f.createArtifact(t, ir.ArtifactManuscriptSection)

	alice, _, err := f.dial(t, doc.ID, "alice")
	require.NoError(t, err)
	alice.sync()
	bob, _, err := f.dial(t, doc.ID, "bob")
	require.NoError(t, err)
	bob.sync()

	alice.insert(0, "Methods")
	ack := alice.recv()
	require.Equal(t, collab.MsgAck, ack.Type, "%+v", ack.Error)
	assert.EqualValues(t, 1, ack.Clock)

	relayed := bob.recv()
	require.Equal(t, collab.MsgUpdate, relayed.Type)
	assert.EqualValues(t, 1, relayed.Clock)
	assert.Equal(t, "alice", relayed.Participant)
	bob.apply(relayed.Update)
	assert.Equal(t, "Methods", bob.doc.Text())

	resp := f.do(t, http.MethodGet, "/api/v1/rooms/"+doc.ID+"/presence", nil)
	require.Equal(t, http.StatusOK, resp.code)
	var participants []presence.Record
	resp.into(t, &participants)
	require.Len(t, participants, 2)
	assert.Equal(t, "alice", participants[0].Attributes.DisplayName)

	resp = f.do(t, http.MethodGet, "/api/v1/artifacts/"+doc.ID+"/document", nil)
	require.Equal(t, http.StatusOK, resp.code)
	var body struct {
		Text  string `json:"text"`
		Clock int64  `json:"clock"`
	}
	resp.into(t, &body)
	assert.Equal(t, "Methods", body.Text)
	assert.EqualValues(t, 1, body.Clock)

	resp = f.do(t, http.MethodGet, "/api/v1/rooms/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, resp.code)
	var status collab.RoomStatus
	resp.into(t, &status)
	assert.Equal(t, 2, status.Sessions)
}

func TestWebSocket_ErrorsAreMessages(t *testing.T) {
	f := newFixture(t)
	doc := f.createArtifact(t, ir.ArtifactManuscriptSection)

	peer, _, err := f.dial(t, doc.ID, "alice")
	require.NoError(t, err)

	peer.send(collab.Message{Type: "shout"})
	m := peer.recv()
	require.Equal(t, collab.MsgError, m.Type)
	assert.Equal(t, errs.CodeValidation, m.Error.Code)

	peer.send(collab.Message{Type: collab.MsgUpdate, Update: json.RawMessage(`{"ops":[{"bogus":1}]}`)})
	m = peer.recv()
	require.Equal(t, collab.MsgError, m.Type)
	assert.Equal(t, errs.CodeValidation, m.Error.Code)

	require.NoError(t, peer.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	m = peer.recv()
	require.Equal(t, collab.MsgError, m.Type)
}

func TestWebSocket_JoinFailsBeforeUpgrade(t *testing.T) {
	f := newFixture(t)

	_, resp, err := f.dial(t, "00000000-0000-4000-8000-0000000000ff", "alice")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
