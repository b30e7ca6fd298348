package shmpubsub

import (
	"fmt"
	"io"
	"sort"

	"github.com/atolab/shmpubsub/net"
)

// Admin represents the admin interface to inspect a Node.
type Admin struct {
	session *net.Session
}

// GetInfo returns the information map of the session.
func (a *Admin) GetInfo() map[string]string {
	return a.session.Info()
}

// GetTopics returns all the topics having at least one publisher or subscriber.
func (a *Admin) GetTopics() []net.TopicInfo {
	return a.session.Topics()
}

// GetTopic returns the information of one topic, or nil if it is unknown.
func (a *Admin) GetTopic(topic string) (*net.TopicInfo, error) {
	path, err := NewPath(topic)
	if err != nil {
		return nil, &ZError{"Invalid topic: " + topic, err}
	}
	for _, info := range a.session.Topics() {
		if info.Name == path.ToString() {
			info := info
			return &info, nil
		}
	}
	return nil, nil
}

// Dump writes the session info and its topics in a human readable form.
func (a *Admin) Dump(w io.Writer) error {
	info := a.GetInfo()
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%-12s: %s\n", k, info[k]); err != nil {
			return err
		}
	}
	for _, t := range a.GetTopics() {
		_, err := fmt.Fprintf(w, "topic %s: pubs=%d subs=%d seq=%d memfile=%s (%d bytes)\n",
			t.Name, t.Publishers, t.Subscribers, t.Seq, t.MemFile, t.MemFileSize)
		if err != nil {
			return err
		}
	}
	return nil
}
