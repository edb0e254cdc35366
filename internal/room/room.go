package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/antoniostano/codepair/internal/backplane"
	"github.com/antoniostano/codepair/internal/observability"
	"github.com/antoniostano/codepair/internal/protocol"
	"github.com/antoniostano/codepair/internal/session"
	"github.com/antoniostano/codepair/internal/store"
)

// Options tunes per-room behavior.
type Options struct {
	// PresenceFlushInterval bounds cursor/selection fan-out: only the
	// latest position per participant is broadcast each tick.
	PresenceFlushInterval time.Duration
	SubscriberBuffer      int
}

func (o Options) withDefaults() Options {
	if o.PresenceFlushInterval <= 0 {
		o.PresenceFlushInterval = 50 * time.Millisecond
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 256
	}
	return o
}

// Room owns one session's authoritative state. All reads and mutations
// flow through a single goroutine receiving typed commands, so
// application order equals arrival order and no field needs a lock.
type Room struct {
	token string
	opts  Options

	cmds   chan any
	remote chan backplane.Event

	closed    chan struct{}
	closeOnce sync.Once

	st      store.Store
	bp      backplane.Backplane
	metrics *observability.Metrics

	// Owned by the run goroutine.
	sess           *session.Session
	subs           map[string]*Subscriber
	cursorDirty    map[string]session.Position
	selectionDirty map[string]*session.Selection

	persistCh   chan *session.Session
	publishCh   chan backplane.Event
	unsubscribe func()
}

func newRoom(sess *session.Session, st store.Store, bp backplane.Backplane, metrics *observability.Metrics, opts Options) *Room {
	r := &Room{
		token:          sess.Token,
		opts:           opts.withDefaults(),
		cmds:           make(chan any),
		remote:         make(chan backplane.Event, 64),
		closed:         make(chan struct{}),
		st:             st,
		bp:             bp,
		metrics:        metrics,
		sess:           sess,
		subs:           make(map[string]*Subscriber),
		cursorDirty:    make(map[string]session.Position),
		selectionDirty: make(map[string]*session.Selection),
		persistCh:      make(chan *session.Session, 1),
		publishCh:      make(chan backplane.Event, 256),
	}

	cancel, err := bp.Subscribe(context.Background(), r.token, r.onRemote)
	if err != nil {
		log.Printf("room %s: backplane subscribe failed, running instance-local: %v", r.token, err)
		cancel = func() {}
	}
	r.unsubscribe = cancel

	go r.run()
	go r.persister()
	go r.publisher()

	r.schedulePersist(sess.Clone())
	return r
}

func (r *Room) Token() string { return r.token }

// Close stops the actor and detaches every subscriber. Idempotent.
func (r *Room) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

// commands

type joinReply struct {
	snap *session.Session
	err  error
}

type cmdJoin struct {
	userID   string
	username string
	reply    chan joinReply
}

type cmdLeave struct {
	userID string
	reply  chan error
}

type attachReply struct {
	snap *session.Session
	err  error
}

type cmdAttach struct {
	sub   *Subscriber
	reply chan attachReply
}

type cmdDetach struct {
	subID string
	reply chan struct{}
}

type cmdCode struct {
	userID string
	code   string
	reply  chan error
}

type cmdLanguage struct {
	userID   string
	language string
	reply    chan error
}

type settingsReply struct {
	settings session.Settings
	err      error
}

type cmdSettings struct {
	userID string
	patch  session.SettingsPatch
	reply  chan settingsReply
}

type chatReply struct {
	msg session.ChatMessage
	err error
}

type cmdChat struct {
	userID string
	text   string
	reply  chan chatReply
}

type cmdCursor struct {
	userID   string
	position session.Position
}

type cmdSelection struct {
	userID    string
	selection *session.Selection
}

type cmdSnapshot struct {
	reply chan *session.Session
}

// IdleInfo is what the eviction sweep needs to decide a room's fate.
type IdleInfo struct {
	LastActivity time.Time
	Connections  int
}

type cmdIdleInfo struct {
	reply chan IdleInfo
}

func (r *Room) submit(cmd any) bool {
	select {
	case r.cmds <- cmd:
		return true
	case <-r.closed:
		return false
	}
}

// await reads a reply, falling back to a non-blocking read if the room
// closes while waiting so a reply sent just before shutdown is not lost.
func await[T any](r *Room, reply chan T) (T, bool) {
	select {
	case v := <-reply:
		return v, true
	case <-r.closed:
		select {
		case v := <-reply:
			return v, true
		default:
			var zero T
			return zero, false
		}
	}
}

// Join upserts userID as a participant and returns the resync snapshot.
// The participant is not marked active until a connection attaches.
func (r *Room) Join(userID, username string) (*session.Session, error) {
	reply := make(chan joinReply, 1)
	if !r.submit(cmdJoin{userID: userID, username: username, reply: reply}) {
		return nil, session.ErrNotFound
	}
	res, ok := await(r, reply)
	if !ok {
		return nil, session.ErrNotFound
	}
	return res.snap, res.err
}

// Leave removes userID from the session entirely and drops any of its
// live connections. The session itself stays joinable until evicted.
func (r *Room) Leave(userID string) error {
	reply := make(chan error, 1)
	if !r.submit(cmdLeave{userID: userID, reply: reply}) {
		return session.ErrNotFound
	}
	err, ok := await(r, reply)
	if !ok {
		return session.ErrNotFound
	}
	return err
}

// Attach binds a connection to the room and returns the snapshot to be
// delivered as session-state. An existing connection for the same user
// is quietly replaced.
func (r *Room) Attach(sub *Subscriber) (*session.Session, error) {
	reply := make(chan attachReply, 1)
	if !r.submit(cmdAttach{sub: sub, reply: reply}) {
		return nil, session.ErrNotFound
	}
	res, ok := await(r, reply)
	if !ok {
		return nil, session.ErrNotFound
	}
	return res.snap, res.err
}

// Detach handles a transport-level disconnect: the participant keeps
// its seat but is marked inactive, and the room broadcasts user-left.
func (r *Room) Detach(subID string) {
	reply := make(chan struct{}, 1)
	if !r.submit(cmdDetach{subID: subID, reply: reply}) {
		return
	}
	await(r, reply)
}

func (r *Room) ApplyCode(userID, code string) error {
	reply := make(chan error, 1)
	if !r.submit(cmdCode{userID: userID, code: code, reply: reply}) {
		return session.ErrNotFound
	}
	err, ok := await(r, reply)
	if !ok {
		return session.ErrNotFound
	}
	return err
}

func (r *Room) SetLanguage(userID, language string) error {
	reply := make(chan error, 1)
	if !r.submit(cmdLanguage{userID: userID, language: language, reply: reply}) {
		return session.ErrNotFound
	}
	err, ok := await(r, reply)
	if !ok {
		return session.ErrNotFound
	}
	return err
}

func (r *Room) UpdateSettings(userID string, patch session.SettingsPatch) (session.Settings, error) {
	reply := make(chan settingsReply, 1)
	if !r.submit(cmdSettings{userID: userID, patch: patch, reply: reply}) {
		return session.Settings{}, session.ErrNotFound
	}
	res, ok := await(r, reply)
	if !ok {
		return session.Settings{}, session.ErrNotFound
	}
	return res.settings, res.err
}

func (r *Room) AppendChat(userID, text string) (session.ChatMessage, error) {
	reply := make(chan chatReply, 1)
	if !r.submit(cmdChat{userID: userID, text: text, reply: reply}) {
		return session.ChatMessage{}, session.ErrNotFound
	}
	res, ok := await(r, reply)
	if !ok {
		return session.ChatMessage{}, session.ErrNotFound
	}
	return res.msg, res.err
}

// UpdateCursor records userID's cursor position. Fire-and-forget: the
// broadcast happens on the next presence flush tick.
func (r *Room) UpdateCursor(userID string, position session.Position) {
	r.submit(cmdCursor{userID: userID, position: position})
}

// UpdateSelection records userID's selection; nil clears it.
func (r *Room) UpdateSelection(userID string, selection *session.Selection) {
	r.submit(cmdSelection{userID: userID, selection: selection})
}

// Snapshot returns a deep copy of the session at this instant.
func (r *Room) Snapshot() (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if !r.submit(cmdSnapshot{reply: reply}) {
		return nil, session.ErrNotFound
	}
	snap, ok := await(r, reply)
	if !ok {
		return nil, session.ErrNotFound
	}
	return snap, nil
}

func (r *Room) idleInfo() (IdleInfo, bool) {
	reply := make(chan IdleInfo, 1)
	if !r.submit(cmdIdleInfo{reply: reply}) {
		return IdleInfo{}, false
	}
	return await(r, reply)
}

// actor loop

func (r *Room) run() {
	ticker := time.NewTicker(r.opts.PresenceFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.closed:
			r.cleanup()
			return
		case cmd := <-r.cmds:
			r.handle(cmd)
		case ev := <-r.remote:
			r.deliverRemote(ev)
		case <-ticker.C:
			r.flushPresence()
		}
	}
}

func (r *Room) cleanup() {
	r.unsubscribe()
	for id, sub := range r.subs {
		close(sub.send)
		delete(r.subs, id)
	}
	close(r.persistCh)
	close(r.publishCh)
}

func (r *Room) handle(cmd any) {
	switch c := cmd.(type) {
	case cmdJoin:
		_, err := r.sess.Upsert(c.userID, c.username, false)
		if err != nil {
			c.reply <- joinReply{err: err}
			return
		}
		r.schedulePersist(r.sess.Clone())
		c.reply <- joinReply{snap: r.sess.Clone()}

	case cmdAttach:
		p, err := r.sess.Upsert(c.sub.userID, c.sub.username, true)
		if err != nil {
			c.reply <- attachReply{err: err}
			return
		}
		// A reconnect replaces the previous connection without a
		// user-left/user-joined flap.
		rejoined := false
		for id, sub := range r.subs {
			if sub.userID == c.sub.userID {
				close(sub.send)
				delete(r.subs, id)
				rejoined = true
			}
		}
		r.subs[c.sub.id] = c.sub
		if !rejoined {
			r.broadcast(protocol.UserJoined{
				Type:     protocol.TypeUserJoined,
				UserID:   p.UserID,
				Username: p.Username,
			}, p.UserID)
		}
		r.schedulePersist(r.sess.Clone())
		c.reply <- attachReply{snap: r.sess.Clone()}

	case cmdDetach:
		sub, ok := r.subs[c.subID]
		if !ok {
			c.reply <- struct{}{}
			return
		}
		close(sub.send)
		delete(r.subs, c.subID)
		delete(r.cursorDirty, sub.userID)
		delete(r.selectionDirty, sub.userID)
		if r.sess.Deactivate(sub.userID) {
			r.broadcast(protocol.UserLeft{
				Type:     protocol.TypeUserLeft,
				UserID:   sub.userID,
				Username: sub.username,
			}, sub.userID)
			r.schedulePersist(r.sess.Clone())
		}
		c.reply <- struct{}{}

	case cmdLeave:
		p := r.sess.Participant(c.userID)
		if p == nil {
			c.reply <- nil
			return
		}
		username := p.Username
		for id, sub := range r.subs {
			if sub.userID == c.userID {
				close(sub.send)
				delete(r.subs, id)
			}
		}
		delete(r.cursorDirty, c.userID)
		delete(r.selectionDirty, c.userID)
		r.sess.Remove(c.userID)
		r.broadcast(protocol.UserLeft{
			Type:     protocol.TypeUserLeft,
			UserID:   c.userID,
			Username: username,
		}, c.userID)
		r.schedulePersist(r.sess.Clone())
		c.reply <- nil

	case cmdCode:
		p := r.sess.Participant(c.userID)
		if p == nil || !session.CanMutate(r.sess, c.userID, session.ActionEditCode) {
			r.metrics.RejectedMutations.WithLabelValues(string(session.ActionEditCode)).Inc()
			c.reply <- session.ErrUnauthorized
			return
		}
		r.sess.SetCode(c.code)
		r.broadcast(protocol.CodeUpdate{
			Type:     protocol.TypeCodeUpdate,
			Code:     r.sess.Code,
			UserID:   p.UserID,
			Username: p.Username,
		}, p.UserID)
		r.schedulePersist(r.sess.Clone())
		c.reply <- nil

	case cmdLanguage:
		p := r.sess.Participant(c.userID)
		if p == nil || !session.CanMutate(r.sess, c.userID, session.ActionChangeLanguage) {
			r.metrics.RejectedMutations.WithLabelValues(string(session.ActionChangeLanguage)).Inc()
			c.reply <- session.ErrUnauthorized
			return
		}
		r.sess.SetLanguage(c.language)
		note := r.sess.AppendChat(p.UserID, p.Username,
			fmt.Sprintf("%s changed the language to %s", p.Username, c.language),
			session.ChatTypeSystem)
		r.broadcast(protocol.LanguageUpdate{
			Type:      protocol.TypeLanguageUpdate,
			Language:  r.sess.Language,
			ChangedBy: p.Username,
		}, p.UserID)
		r.broadcast(protocol.ChatMessage{
			Type:    protocol.TypeChatMessage,
			Message: note,
		}, p.UserID)
		r.schedulePersist(r.sess.Clone())
		c.reply <- nil

	case cmdSettings:
		if r.sess.Participant(c.userID) == nil || !session.CanMutate(r.sess, c.userID, session.ActionChangeSettings) {
			r.metrics.RejectedMutations.WithLabelValues(string(session.ActionChangeSettings)).Inc()
			c.reply <- settingsReply{err: session.ErrUnauthorized}
			return
		}
		settings, changed := r.sess.ApplySettings(c.patch)
		if changed {
			r.schedulePersist(r.sess.Clone())
		}
		c.reply <- settingsReply{settings: settings}

	case cmdChat:
		p := r.sess.Participant(c.userID)
		if p == nil || !session.CanMutate(r.sess, c.userID, session.ActionChat) {
			r.metrics.RejectedMutations.WithLabelValues(string(session.ActionChat)).Inc()
			c.reply <- chatReply{err: session.ErrUnauthorized}
			return
		}
		msg := r.sess.AppendChat(p.UserID, p.Username, c.text, session.ChatTypeMessage)
		r.broadcast(protocol.ChatMessage{
			Type:    protocol.TypeChatMessage,
			Message: msg,
		}, p.UserID)
		r.schedulePersist(r.sess.Clone())
		c.reply <- chatReply{msg: msg}

	case cmdCursor:
		p := r.sess.Participant(c.userID)
		if p == nil {
			return
		}
		pos := c.position
		p.Cursor = &pos
		r.cursorDirty[c.userID] = pos

	case cmdSelection:
		p := r.sess.Participant(c.userID)
		if p == nil {
			return
		}
		p.Selection = c.selection
		r.selectionDirty[c.userID] = c.selection

	case cmdSnapshot:
		c.reply <- r.sess.Clone()

	case cmdIdleInfo:
		c.reply <- IdleInfo{
			LastActivity: r.sess.LastActivity,
			Connections:  len(r.subs),
		}
	}
}

func (r *Room) flushPresence() {
	for uid, pos := range r.cursorDirty {
		r.broadcast(protocol.CursorUpdate{
			Type:     protocol.TypeCursorUpdate,
			UserID:   uid,
			Position: pos,
		}, uid)
		delete(r.cursorDirty, uid)
	}
	for uid, sel := range r.selectionDirty {
		r.broadcast(protocol.SelectionUpdate{
			Type:      protocol.TypeSelectionUpdate,
			UserID:    uid,
			Selection: sel,
		}, uid)
		delete(r.selectionDirty, uid)
	}
}

// broadcast fans ev out to every local subscriber except the
// originator's connections and relays it through the backplane for
// subscribers held by other instances.
func (r *Room) broadcast(ev any, excludeUserID string) {
	n := 0
	for id, sub := range r.subs {
		if excludeUserID != "" && sub.userID == excludeUserID {
			continue
		}
		select {
		case sub.send <- ev:
			n++
		default:
			// Slow consumer: detach rather than block the actor.
			r.metrics.BroadcastDrops.Inc()
			close(sub.send)
			delete(r.subs, id)
		}
	}
	r.metrics.BroadcastFanout.Observe(float64(n))

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("room %s: marshal broadcast: %v", r.token, err)
		return
	}
	select {
	case r.publishCh <- backplane.Event{Token: r.token, ExcludeUserID: excludeUserID, Payload: payload}:
	default:
		log.Printf("room %s: backplane publish queue full, dropping event", r.token)
	}
}

func (r *Room) onRemote(ev backplane.Event) {
	select {
	case r.remote <- ev:
	case <-r.closed:
	}
}

func (r *Room) deliverRemote(ev backplane.Event) {
	r.metrics.BackplaneMessages.WithLabelValues("inbound").Inc()
	for id, sub := range r.subs {
		if ev.ExcludeUserID != "" && sub.userID == ev.ExcludeUserID {
			continue
		}
		select {
		case sub.send <- ev.Payload:
		default:
			r.metrics.BroadcastDrops.Inc()
			close(sub.send)
			delete(r.subs, id)
		}
	}
}

// write-behind persistence: latest snapshot wins, the actor never
// blocks on store I/O.

func (r *Room) schedulePersist(snap *session.Session) {
	for {
		select {
		case r.persistCh <- snap:
			return
		default:
		}
		select {
		case <-r.persistCh:
		default:
		}
	}
}

func (r *Room) persister() {
	for snap := range r.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.st.Save(ctx, snap); err != nil {
			log.Printf("room %s: persist failed: %v", r.token, err)
		}
		cancel()
	}
}

func (r *Room) publisher() {
	for ev := range r.publishCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.bp.Publish(ctx, ev); err != nil {
			log.Printf("room %s: backplane publish failed: %v", r.token, err)
		} else {
			r.metrics.BackplaneMessages.WithLabelValues("outbound").Inc()
		}
		cancel()
	}
}
