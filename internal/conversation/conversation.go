// Package conversation maintains the in-memory state of one open
// two-party conversation: encrypted message history, realtime merge of
// row-change events, and optimistic mutations with rollback.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"campuschat/internal/cryptographic/box"
	"campuschat/internal/directory"
	"campuschat/internal/keystore"
	"campuschat/internal/model"
	"campuschat/internal/realtime"
	"campuschat/internal/storage"
	"campuschat/internal/utils/log"
)

const (
	messagesTable  = "messages"
	reactionsTable = "message_reactions"

	pendingIDPrefix = "pending-"
)

var (
	// ErrPeerHasNoKey means the counterpart never published a public key;
	// they may not have used chat yet.
	ErrPeerHasNoKey = errors.New("conversation: peer has no published key")

	ErrNotOpen         = errors.New("conversation: not open")
	ErrUnknownMessage  = errors.New("conversation: message not in local state")
	ErrEmptyAttachment = errors.New("conversation: empty attachment")

	// ErrReactionPending means the user's reaction on this message is still
	// awaiting its insert confirmation; the toggle has no server id to
	// delete or update yet. Retry once the echo lands.
	ErrReactionPending = errors.New("conversation: reaction awaiting confirmation")
)

type (
	MessageStore interface {
		Insert(ctx context.Context, msg *model.Message) (*model.Message, error)
		ListConversation(ctx context.Context, userA, userB string) ([]model.Message, error)
	}

	ReactionStore interface {
		Insert(ctx context.Context, reaction *model.Reaction) (*model.Reaction, error)
		UpdateEmoji(ctx context.Context, id, emoji string) error
		Delete(ctx context.Context, id string) error
		ListForMessages(ctx context.Context, messageIDs []string) ([]model.Reaction, error)
	}

	KeyProvider interface {
		GetOrCreateKeyPair(ctx context.Context, userID string) (keystore.KeyPair, error)
	}

	// Sync is single-writer from the caller's side; realtime handlers and
	// callers serialize on the internal mutex.
	Sync struct {
		keys      KeyProvider
		directory directory.Client
		messages  MessageStore
		reactions ReactionStore
		uploads   storage.Uploader
		feed      realtime.Feed

		mu       sync.Mutex
		open     bool
		selfID   string
		peerID   string
		self     keystore.KeyPair
		peerPub  [32]byte
		history  []model.Message
		byID     map[string]int
		msgSub   string
		reactSub string

		onChange func()
	}
)

func New(keys KeyProvider, dir directory.Client, messages MessageStore, reactions ReactionStore, uploads storage.Uploader, feed realtime.Feed) *Sync {
	return &Sync{
		keys:      keys,
		directory: dir,
		messages:  messages,
		reactions: reactions,
		uploads:   uploads,
		feed:      feed,
	}
}

// SetOnChange registers a callback fired after every state mutation. The
// callback runs without the state lock held; use Messages to read.
func (s *Sync) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Open loads the conversation with peerID. Subscriptions are established
// before the history fetch so nothing slips through the gap; the merge
// dedupes by id, so an event echoing a row already fetched is harmless.
func (s *Sync) Open(ctx context.Context, selfID, peerID string) error {
	pair, err := s.keys.GetOrCreateKeyPair(ctx, selfID)
	if err != nil {
		return fmt.Errorf("own key pair: %w", err)
	}

	peerPub, err := s.directory.Fetch(ctx, peerID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPeerHasNoKey, peerID)
		}
		return fmt.Errorf("peer key: %w", err)
	}

	s.mu.Lock()
	s.open = true
	s.selfID = selfID
	s.peerID = peerID
	s.self = pair
	s.peerPub = peerPub
	s.history = nil
	s.byID = make(map[string]int)
	s.mu.Unlock()

	msgSub, err := s.feed.Subscribe(realtime.Subscription{
		Table:  messagesTable,
		Events: []realtime.EventType{realtime.EventInsert},
		Filter: &realtime.Filter{Column: "receiver_id", Value: selfID},
	}, s.handleMessageEvent)
	if err != nil {
		s.Close()
		return fmt.Errorf("subscribe messages: %w", err)
	}

	reactSub, err := s.feed.Subscribe(realtime.Subscription{
		Table:  reactionsTable,
		Events: []realtime.EventType{realtime.EventInsert, realtime.EventUpdate, realtime.EventDelete},
	}, s.handleReactionEvent)
	if err != nil {
		s.feed.Unsubscribe(msgSub)
		s.Close()
		return fmt.Errorf("subscribe reactions: %w", err)
	}

	s.mu.Lock()
	s.msgSub = msgSub
	s.reactSub = reactSub
	s.mu.Unlock()

	history, err := s.messages.ListConversation(ctx, selfID, peerID)
	if err != nil {
		s.Close()
		return fmt.Errorf("load history: %w", err)
	}

	ids := make([]string, 0, len(history))
	for i := range history {
		s.decrypt(&history[i])
		ids = append(ids, history[i].ID)
	}

	folded, err := s.reactions.ListForMessages(ctx, ids)
	if err != nil {
		s.Close()
		return fmt.Errorf("load reactions: %w", err)
	}

	s.mu.Lock()
	for i := range history {
		s.mergeMessageLocked(history[i])
	}
	for _, r := range folded {
		if idx, ok := s.byID[r.MessageID]; ok {
			s.upsertReactionLocked(idx, r)
		}
	}
	s.mu.Unlock()

	s.notify()
	return nil
}

// Close tears down both subscriptions and discards state. In-flight
// mutations are not cancelled; their late results are dropped by the open
// guard.
func (s *Sync) Close() {
	s.mu.Lock()
	msgSub, reactSub := s.msgSub, s.reactSub
	s.open = false
	s.msgSub, s.reactSub = "", ""
	s.history = nil
	s.byID = nil
	s.mu.Unlock()

	if msgSub != "" {
		s.feed.Unsubscribe(msgSub)
	}
	if reactSub != "" {
		s.feed.Unsubscribe(reactSub)
	}
}

// Messages returns a copy of the current ordered state.
func (s *Sync) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, len(s.history))
	copy(out, s.history)
	for i := range out {
		out[i].Reactions = append(make([]model.Reaction, 0, len(s.history[i].Reactions)), s.history[i].Reactions...)
	}
	return out
}

// SendText encrypts content for the peer and writes the row. On failure
// nothing is appended locally, so the caller can keep the draft.
func (s *Sync) SendText(ctx context.Context, content, replyToID string) (*model.Message, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	selfID, peerID := s.selfID, s.peerID
	peerPub, secret := s.peerPub, s.self.SecretKey
	s.mu.Unlock()

	envelope, err := box.Encrypt(content, peerPub, secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	stored, err := s.messages.Insert(ctx, &model.Message{
		SenderID:         selfID,
		ReceiverID:       peerID,
		Content:          envelope,
		MessageType:      model.MessageTypeText,
		ReplyToMessageID: replyToID,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	// Local copy keeps the plaintext; the remote echo path skips
	// self-sent rows, so this append is the only one.
	local := *stored
	local.Content = content
	s.appendOwn(local)
	return &local, nil
}

// SendImage uploads the attachment, then writes an image row pointing at
// its public URL.
func (s *Sync) SendImage(ctx context.Context, filename string, data []byte, replyToID string) (*model.Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAttachment
	}

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	selfID, peerID := s.selfID, s.peerID
	s.mu.Unlock()

	objectPath := uuid.NewString() + strings.ToLower(path.Ext(filename))
	if err := s.uploads.Upload(objectPath, data); err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	stored, err := s.messages.Insert(ctx, &model.Message{
		SenderID:         selfID,
		ReceiverID:       peerID,
		MessageType:      model.MessageTypeImage,
		AttachmentURL:    s.uploads.PublicURL(objectPath),
		ReplyToMessageID: replyToID,
	})
	if err != nil {
		return nil, fmt.Errorf("send image: %w", err)
	}

	local := *stored
	s.appendOwn(local)
	return &local, nil
}

// SendGif writes a gif row referencing an already-hosted URL.
func (s *Sync) SendGif(ctx context.Context, gifURL, replyToID string) (*model.Message, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, ErrNotOpen
	}
	selfID, peerID := s.selfID, s.peerID
	s.mu.Unlock()

	stored, err := s.messages.Insert(ctx, &model.Message{
		SenderID:         selfID,
		ReceiverID:       peerID,
		MessageType:      model.MessageTypeGif,
		AttachmentURL:    gifURL,
		ReplyToMessageID: replyToID,
	})
	if err != nil {
		return nil, fmt.Errorf("send gif: %w", err)
	}

	local := *stored
	s.appendOwn(local)
	return &local, nil
}

// ToggleReaction applies the three-way toggle: no own reaction inserts,
// same emoji removes, different emoji updates in place. The mutation is
// optimistic; a failed store call restores the message's reaction list to
// its pre-mutation snapshot.
func (s *Sync) ToggleReaction(ctx context.Context, messageID, emoji, userID string) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return ErrNotOpen
	}
	idx, ok := s.byID[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}

	snapshot := append([]model.Reaction(nil), s.history[idx].Reactions...)
	own, hasOwn := FindOwn(snapshot, userID)
	if hasOwn && strings.HasPrefix(own.ID, pendingIDPrefix) {
		// The prior insert has not confirmed; there is no server id to
		// delete or update against.
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrReactionPending, messageID)
	}

	var mutate func() error
	switch {
	case !hasOwn:
		pending := model.Reaction{
			ID:        pendingIDPrefix + uuid.NewString(),
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
		}
		s.history[idx].Reactions = append(s.history[idx].Reactions, pending)
		mutate = func() error {
			stored, err := s.reactions.Insert(ctx, &model.Reaction{
				MessageID: messageID,
				UserID:    userID,
				Emoji:     emoji,
			})
			if err != nil {
				return err
			}
			s.confirmReaction(*stored)
			return nil
		}

	case own.Emoji == emoji:
		s.removeReactionLocked(idx, own.ID)
		mutate = func() error {
			return s.reactions.Delete(ctx, own.ID)
		}

	default:
		s.setReactionEmojiLocked(idx, own.ID, emoji)
		mutate = func() error {
			return s.reactions.UpdateEmoji(ctx, own.ID, emoji)
		}
	}
	s.mu.Unlock()
	s.notify()

	if err := mutate(); err != nil {
		s.mu.Lock()
		if i, ok := s.byID[messageID]; ok {
			s.history[i].Reactions = snapshot
		}
		s.mu.Unlock()
		s.notify()
		log.Error("reaction toggle rolled back",
			zap.String("message_id", messageID),
			zap.Error(err))
		return fmt.Errorf("toggle reaction: %w", err)
	}
	return nil
}

// --- realtime reducers ---

func (s *Sync) handleMessageEvent(ev realtime.ChangeEvent) {
	if ev.Type != realtime.EventInsert {
		return
	}

	var msg model.Message
	if err := json.Unmarshal(ev.Record, &msg); err != nil {
		log.Error("decode message event", zap.Error(err))
		return
	}

	s.mu.Lock()
	if !s.open || msg.SenderID != s.peerID || msg.ReceiverID != s.selfID {
		// Self-sent rows arrive via the optimistic path; rows for other
		// conversations are not ours.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.decrypt(&msg)

	// Close may have torn the state down while decrypt ran; re-check
	// before merging.
	s.mu.Lock()
	if s.open {
		s.mergeMessageLocked(msg)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Sync) handleReactionEvent(ev realtime.ChangeEvent) {
	raw := ev.Record
	if ev.Type == realtime.EventDelete {
		raw = ev.OldRecord
	}

	var r model.Reaction
	if err := json.Unmarshal(raw, &r); err != nil {
		log.Error("decode reaction event", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	if !s.open {
		return
	}
	idx, ok := s.byID[r.MessageID]
	if !ok {
		// Message not loaded client-side; acceptable staleness.
		return
	}

	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		s.upsertReactionLocked(idx, r)
	case realtime.EventDelete:
		s.removeReactionLocked(idx, r.ID)
	}
}

// --- state helpers ---

// appendOwn inserts a just-sent message, keeping ascending order even if a
// peer message landed in between.
func (s *Sync) appendOwn(msg model.Message) {
	s.mu.Lock()
	if s.open {
		s.mergeMessageLocked(msg)
	}
	s.mu.Unlock()
	s.notify()
}

// mergeMessageLocked inserts by created_at, deduplicating by id.
func (s *Sync) mergeMessageLocked(msg model.Message) {
	if _, dup := s.byID[msg.ID]; dup {
		return
	}
	if msg.Reactions == nil {
		msg.Reactions = []model.Reaction{}
	}

	at := sort.Search(len(s.history), func(i int) bool {
		return s.history[i].CreatedAt.After(msg.CreatedAt)
	})
	s.history = append(s.history, model.Message{})
	copy(s.history[at+1:], s.history[at:])
	s.history[at] = msg

	for i := at; i < len(s.history); i++ {
		s.byID[s.history[i].ID] = i
	}
}

// upsertReactionLocked replaces by id first, then by (message, user) so a
// pending optimistic reaction is reconciled by its INSERT echo instead of
// being duplicated.
func (s *Sync) upsertReactionLocked(idx int, r model.Reaction) {
	list := s.history[idx].Reactions
	for i := range list {
		if list[i].ID == r.ID {
			list[i] = r
			return
		}
	}
	for i := range list {
		if list[i].UserID == r.UserID {
			list[i] = r
			return
		}
	}
	s.history[idx].Reactions = append(list, r)
}

func (s *Sync) removeReactionLocked(idx int, reactionID string) {
	list := s.history[idx].Reactions
	for i := range list {
		if list[i].ID == reactionID {
			s.history[idx].Reactions = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *Sync) setReactionEmojiLocked(idx int, reactionID, emoji string) {
	list := s.history[idx].Reactions
	for i := range list {
		if list[i].ID == reactionID {
			list[i].Emoji = emoji
			return
		}
	}
}

// confirmReaction swaps the pending reaction for the stored row once the
// insert returns. Keyed by (message, user): the realtime echo may have
// reconciled it already.
func (s *Sync) confirmReaction(stored model.Reaction) {
	s.mu.Lock()
	if idx, ok := s.byID[stored.MessageID]; ok {
		s.upsertReactionLocked(idx, stored)
	}
	s.mu.Unlock()
}

// decrypt opens a text message's envelope in place. Failures mark the row
// undecryptable rather than failing the whole load.
func (s *Sync) decrypt(msg *model.Message) {
	if msg.MessageType != model.MessageTypeText || msg.Content == "" {
		return
	}

	plain, err := box.Decrypt(msg.Content, s.peerPub, s.self.SecretKey)
	if err != nil {
		log.Debug("undecryptable message",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		msg.Content = ""
		msg.Undecryptable = true
		return
	}
	msg.Content = plain
}

func (s *Sync) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
