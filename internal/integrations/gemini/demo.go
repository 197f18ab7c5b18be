package gemini

// Demo replies are deliberately supportive and non-clinical: no advice, no
// diagnosis. They rotate so repeated turns in one session vary.
var demoReplies = []string{
	"Thank you for sharing that with me. It takes courage to put feelings into words. Would you like to tell me more about how your week has been?",
	"I hear you. Whatever you're feeling right now is valid, and you don't have to carry it alone. What has been on your mind the most lately?",
	"That sounds like a lot to hold. I'm glad you're taking a moment for yourself by being here. Is there anything that has helped you feel even a little lighter recently?",
	"It sounds like things have been heavy. Taking time to check in with yourself, like you're doing now, is a meaningful step. How are you sleeping these days?",
	"I appreciate you opening up. Sometimes just naming what we feel can make it a little easier to face. What would feeling a bit better look like for you today?",
}

// demoReply returns the next canned reply, tagged so callers always know it
// is simulated.
func (c *Client) demoReply() Reply {
	n := c.demoCounter.Add(1)
	return Reply{
		Text:     demoReplies[int(n-1)%len(demoReplies)],
		Model:    "demo",
		DemoMode: true,
	}
}
