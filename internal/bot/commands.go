package bot

// Command constants for Telegram bot commands.
const (
	CommandStart  = "/start"
	CommandStatus = "/status"
	CommandReset  = "/reset"
)
