package grid

// PageCursor tracks continuation tokens for backends that page by token.
// History holds the tokens of the pages before Current, so its length is
// the index of the page on display.
type PageCursor struct {
	Current string   `json:"current"`
	Next    string   `json:"next"`
	History []string `json:"history"`
}

// Advance moves to the next page. It reports false when there is no next token.
func (c *PageCursor) Advance() bool {
	if c.Next == "" {
		return false
	}
	c.History = append(c.History, c.Current)
	c.Current = c.Next
	c.Next = ""
	return true
}

// Back moves to the previous page by popping the history stack.
func (c *PageCursor) Back() bool {
	if len(c.History) == 0 {
		return false
	}
	last := len(c.History) - 1
	c.Current = c.History[last]
	c.History = c.History[:last]
	c.Next = ""
	return true
}

// Reset forgets every token
func (c *PageCursor) Reset() {
	c.Current = ""
	c.Next = ""
	c.History = nil
}

// Depth is the zero-based index of the current page
func (c *PageCursor) Depth() int {
	return len(c.History)
}
