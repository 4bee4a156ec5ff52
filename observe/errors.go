package observe

// RedactedFields lists field keys that are automatically redacted in log
// output because they may carry credentials or other sensitive input.
var RedactedFields = []string{
	"input",
	"inputs",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"credential",
}
