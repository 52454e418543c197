package compositor

import (
	"github.com/aton-render/atonstream/framebuffer"
	"github.com/aton-render/atonstream/notify"
)

// Remove deletes the image of a session together with its stream state
func (c *Compositor) Remove(session int64) error {
	err := c.store.Update(func(tx *framebuffer.Tx) error {
		return tx.Remove(session)
	})
	if err != nil {
		return err
	}
	c.forget(session)
	c.l.WithField("session", session).Info("Removed image")
	c.notifier.Flag(notify.Event{Kind: notify.KindSessions, Session: session})
	return nil
}

// Move moves the image of a session one position up or down the list
func (c *Compositor) Move(session int64, up bool) (bool, error) {
	var moved bool
	err := c.store.Update(func(tx *framebuffer.Tx) (err error) {
		moved, err = tx.Move(session, up)
		return err
	})
	if err != nil {
		return false, err
	}
	if moved {
		c.notifier.Flag(notify.Event{Kind: notify.KindSessions, Session: session})
	}
	return moved, nil
}

// Rename changes the output name of a session
func (c *Compositor) Rename(session int64, name string) error {
	err := c.store.Update(func(tx *framebuffer.Tx) error {
		return tx.Rename(session, name)
	})
	if err != nil {
		return err
	}
	c.notifier.Flag(notify.Event{Kind: notify.KindSessions, Session: session})
	return nil
}

// Clear deletes all images and stream state
func (c *Compositor) Clear() error {
	err := c.store.Update(func(tx *framebuffer.Tx) error {
		return tx.Clear()
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	clear(c.streams)
	metricStreams.Set(0)
	c.mu.Unlock()
	c.notifier.Flag(notify.Event{Kind: notify.KindSessions})
	return nil
}

// Sessions returns a snapshot of all images
func (c *Compositor) Sessions() []framebuffer.SessionInfo {
	var infos []framebuffer.SessionInfo
	_ = c.store.View(func(tx *framebuffer.Tx) error {
		infos = tx.Sessions()
		return nil
	})
	return infos
}
