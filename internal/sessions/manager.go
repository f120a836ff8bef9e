package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sapphire-ai/sapphire/internal/sapphireerr"
)

// Manager is the SessionManager: per-chat message list plus settings,
// atomic file persistence, and an active-chat pointer. A per-chat lock
// serializes concurrent writes to the same chat file; distinct chats may be
// written concurrently.
type Manager struct {
	dir string

	mu          sync.RWMutex
	locks       map[string]*sync.Mutex
	activeName  string
	activeChat  *Chat
}

// NewManager opens (or creates) the chats directory, ensures the default
// chat exists, and loads it as the active chat.
func NewManager(chatsDir string) (*Manager, error) {
	if err := os.MkdirAll(chatsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chats dir: %w", err)
	}
	m := &Manager{
		dir:   chatsDir,
		locks: make(map[string]*sync.Mutex),
	}
	if !m.exists(DefaultChatName) {
		if err := m.writeChat(DefaultChatName, &Chat{Settings: DefaultSettings(), Messages: []Message{}}); err != nil {
			return nil, err
		}
	}
	if err := m.SetActiveChat(DefaultChatName); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".json")
}

func (m *Manager) exists(name string) bool {
	_, err := os.Stat(m.path(name))
	return err == nil
}

// ListChatFiles enumerates known chat identifiers.
func (m *Manager) ListChatFiles() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, trimJSONSuffix(e.Name()))
	}
	return names, nil
}

func trimJSONSuffix(name string) string {
	return name[:len(name)-len(".json")]
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isJSONSpace(b[start]) {
		start++
	}
	return b[start:]
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// readChat reads a chat file, tolerating the legacy bare-array shape.
func (m *Manager) readChat(name string) (*Chat, error) {
	raw, err := os.ReadFile(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sapphireerr.NewNotFound("chat %q does not exist", name)
		}
		return nil, err
	}

	trimmed := bytesTrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var legacy []Message
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("parse chat %s: %w", name, err)
		}
		return &Chat{Settings: DefaultSettings(), Messages: legacy}, nil
	}

	var chat Chat
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("parse chat %s: %w", name, err)
	}
	if chat.Settings == (Settings{}) {
		chat.Settings = DefaultSettings()
	}
	if chat.Messages == nil {
		chat.Messages = []Message{}
	}
	return &chat, nil
}

// writeChat persists chat as a single atomic operation: write to a temp file
// in the same directory, then rename over the target.
func (m *Manager) writeChat(name string, chat *Chat) error {
	raw, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path(name) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path(name))
}

// CreateChat sanitizes name and creates a new empty chat with default
// settings; fails with Conflict if it already exists.
func (m *Manager) CreateChat(name string) (string, error) {
	sanitized := SanitizeName(name)
	if sanitized == "" {
		return "", sapphireerr.NewInput("chat name sanitizes to empty string")
	}
	lock := m.lockFor(sanitized)
	lock.Lock()
	defer lock.Unlock()

	if m.exists(sanitized) {
		return "", sapphireerr.NewConflict("chat %q already exists", sanitized)
	}
	chat := &Chat{Settings: DefaultSettings(), Messages: []Message{}}
	if err := m.writeChat(sanitized, chat); err != nil {
		return "", err
	}
	return sanitized, nil
}

// DeleteChat refuses to delete the reserved default chat. If the deleted
// chat is active, the active chat is switched back to default.
func (m *Manager) DeleteChat(name string) error {
	sanitized := SanitizeName(name)
	if sanitized == DefaultChatName {
		return sapphireerr.NewConflict("cannot delete the default chat")
	}
	lock := m.lockFor(sanitized)
	lock.Lock()
	if !m.exists(sanitized) {
		lock.Unlock()
		return sapphireerr.NewNotFound("chat %q does not exist", sanitized)
	}
	err := os.Remove(m.path(sanitized))
	lock.Unlock()
	if err != nil {
		return err
	}

	m.mu.RLock()
	wasActive := m.activeName == sanitized
	m.mu.RUnlock()
	if wasActive {
		return m.SetActiveChat(DefaultChatName)
	}
	return nil
}

// SetActiveChat switches the in-memory pointer and loads messages+settings
// from disk.
func (m *Manager) SetActiveChat(name string) error {
	sanitized := SanitizeName(name)
	lock := m.lockFor(sanitized)
	lock.Lock()
	chat, err := m.readChat(sanitized)
	lock.Unlock()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.activeName = sanitized
	m.activeChat = chat
	m.mu.Unlock()
	return nil
}

// ActiveChatName returns the currently active chat's name.
func (m *Manager) ActiveChatName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeName
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}

// GetMessages returns a copy of the active chat's raw message list.
func (m *Manager) GetMessages() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeChat == nil {
		return nil
	}
	return cloneMessages(m.activeChat.Messages)
}

// GetChatSettings returns a copy of the active chat's settings.
func (m *Manager) GetChatSettings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeChat == nil {
		return DefaultSettings()
	}
	return m.activeChat.Settings
}

// mutateActive applies fn to the active chat under its per-chat lock and
// persists the result, keeping the in-memory copy consistent with disk.
func (m *Manager) mutateActive(fn func(chat *Chat) error) error {
	m.mu.RLock()
	name := m.activeName
	m.mu.RUnlock()
	if name == "" {
		return sapphireerr.NewInput("no active chat")
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	chat := &Chat{Settings: m.activeChat.Settings, Messages: cloneMessages(m.activeChat.Messages)}
	m.mu.Unlock()

	if err := fn(chat); err != nil {
		return err
	}
	if err := m.writeChat(name, chat); err != nil {
		return err
	}

	m.mu.Lock()
	m.activeChat = chat
	m.mu.Unlock()
	return nil
}

// AppendMessage appends msg to the active chat's history. Callers are
// responsible for assigning a strictly-increasing Timestamp.
func (m *Manager) AppendMessage(msg Message) error {
	return m.mutateActive(func(chat *Chat) error {
		chat.Messages = append(chat.Messages, msg)
		return nil
	})
}

// UpdateChatSettings shallow-merges delta onto the active chat's settings
// and persists atomically. Applying the same delta twice yields the same
// final settings (each field assignment is idempotent).
func (m *Manager) UpdateChatSettings(apply func(*Settings)) error {
	return m.mutateActive(func(chat *Chat) error {
		apply(&chat.Settings)
		return nil
	})
}

// EditMessageByTimestamp locates the unique (role, timestamp) pair and
// replaces its content.
func (m *Manager) EditMessageByTimestamp(role Role, timestamp, newContent string) error {
	return m.mutateActive(func(chat *Chat) error {
		for i := range chat.Messages {
			if chat.Messages[i].Role == role && chat.Messages[i].Timestamp == timestamp {
				chat.Messages[i].Content = newContent
				return nil
			}
		}
		return sapphireerr.NewNotFound("no %s message at timestamp %s", role, timestamp)
	})
}

// RemoveLastMessages removes the last n entries from the tail. n == -1
// clears the whole history.
func (m *Manager) RemoveLastMessages(n int) error {
	return m.mutateActive(func(chat *Chat) error {
		if n < 0 {
			chat.Messages = nil
			return nil
		}
		if n >= len(chat.Messages) {
			chat.Messages = nil
			return nil
		}
		chat.Messages = chat.Messages[:len(chat.Messages)-n]
		return nil
	})
}

// RemoveFromUserMessage finds the most recent user message whose content
// equals text and drops it and every later message.
func (m *Manager) RemoveFromUserMessage(text string) error {
	return m.mutateActive(func(chat *Chat) error {
		for i := len(chat.Messages) - 1; i >= 0; i-- {
			if chat.Messages[i].Role == RoleUser && chat.Messages[i].Content == text {
				chat.Messages = chat.Messages[:i]
				return nil
			}
		}
		return sapphireerr.NewNotFound("no user message matching %q", text)
	})
}

// RemoveFromAssistantTimestamp prunes from the matched assistant message
// forward, leaving earlier messages (including user messages) intact.
func (m *Manager) RemoveFromAssistantTimestamp(timestamp string) error {
	return m.mutateActive(func(chat *Chat) error {
		for i, msg := range chat.Messages {
			if msg.Role == RoleAssistant && msg.Timestamp == timestamp {
				chat.Messages = chat.Messages[:i]
				return nil
			}
		}
		return sapphireerr.NewNotFound("no assistant message at timestamp %s", timestamp)
	})
}

// RemoveLastAssistantInTurn removes the last assistant message (and any
// trailing tool messages after it) without touching the preceding user turn.
func (m *Manager) RemoveLastAssistantInTurn() error {
	return m.mutateActive(func(chat *Chat) error {
		for i := len(chat.Messages) - 1; i >= 0; i-- {
			if chat.Messages[i].Role == RoleAssistant {
				chat.Messages = chat.Messages[:i]
				return nil
			}
		}
		return sapphireerr.NewNotFound("no assistant message in history")
	})
}
