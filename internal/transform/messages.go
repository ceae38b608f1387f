package transform

// Loading messages shown while an attempt runs.
const (
	MsgTransformingImage = "Transforming your image with AI..."
	MsgPreparingVideo    = "Preparing for video generation..."
	MsgExtractingFrame   = "Extracting a frame from your video for reference..."
)

// DefaultStatusMessages rotate while a video job is polled.
var DefaultStatusMessages = []string{
	"Your creation is in the queue...",
	"The AI is working its magic...",
	"Rendering final frames...",
	"This can take a few minutes, please stay on this page.",
}

// statusMessage returns the rotation entry for the given poll count,
// wrapping back to the first message after the last.
func statusMessage(messages []string, polls int) string {
	if len(messages) == 0 {
		return ""
	}
	if polls < 0 {
		polls = 0
	}
	return messages[polls%len(messages)]
}
