package core

import (
	"sort"
	"strings"
)

type ConversationGroup struct {
	Key      string
	Messages []Message
}

// GroupByConversation partitions messages by GroupKey. Messages inside a group
// are ordered by receipt time ascending; groups are ordered by their oldest
// message so a batch is always walked the same way.
func GroupByConversation(messages []Message) []ConversationGroup {
	index := map[string]int{}
	groups := []ConversationGroup{}
	for _, msg := range messages {
		key := msg.GroupKey()
		if key == "" {
			continue
		}
		position, ok := index[key]
		if !ok {
			position = len(groups)
			index[key] = position
			groups = append(groups, ConversationGroup{Key: key})
		}
		groups[position].Messages = append(groups[position].Messages, msg)
	}

	for i := range groups {
		sortByReceipt(groups[i].Messages)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		left, right := groups[i].Messages[0], groups[j].Messages[0]
		if !left.ReceivedAt.Equal(right.ReceivedAt) {
			return left.ReceivedAt.Before(right.ReceivedAt)
		}
		return groups[i].Key < groups[j].Key
	})
	return groups
}

func sortByReceipt(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].ReceivedAt.Equal(messages[j].ReceivedAt) {
			return messages[i].ReceivedAt.Before(messages[j].ReceivedAt)
		}
		return messages[i].ID < messages[j].ID
	})
}

// referencedMessageIDs lists In-Reply-To first, then References newest first.
func referencedMessageIDs(msg Message) []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(msg.InReplyTo)
	for i := len(msg.References) - 1; i >= 0; i-- {
		add(msg.References[i])
	}
	return out
}

func isAutoResponse(msg Message) bool {
	if value := strings.ToLower(strings.TrimSpace(msg.Header("Auto-Submitted"))); value != "" && value != "no" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(msg.Header("Precedence"))) {
	case "bulk", "junk", "auto_reply":
		return true
	}
	if msg.Header("X-Autoreply") != "" || msg.Header("X-Autorespond") != "" {
		return true
	}
	return false
}
