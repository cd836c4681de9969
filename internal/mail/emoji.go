package mail

// emojis is the set of emoji sequences prettyBody wraps in emoji spans.
var emojis = map[string]bool{
	"😀": true, "😁": true, "😂": true, "😃": true, "😄": true, "😅": true,
	"😆": true, "😇": true, "😈": true, "😉": true, "😊": true, "😋": true,
	"😌": true, "😍": true, "😎": true, "😏": true, "😐": true, "😑": true,
	"😒": true, "😓": true, "😔": true, "😕": true, "😖": true, "😗": true,
	"😘": true, "😙": true, "😚": true, "😛": true, "😜": true, "😝": true,
	"😞": true, "😟": true, "😠": true, "😡": true, "😢": true, "😣": true,
	"😤": true, "😥": true, "😦": true, "😧": true, "😨": true, "😩": true,
	"😪": true, "😫": true, "😬": true, "😭": true, "😮": true, "😯": true,
	"😰": true, "😱": true, "😲": true, "😳": true, "😴": true, "😵": true,
	"😶": true, "😷": true, "🙁": true, "🙂": true, "🙃": true, "🙄": true,
	"🤐": true, "🤑": true, "🤒": true, "🤓": true, "🤔": true, "🤕": true,
	"🤗": true, "🤣": true, "🤩": true, "🤪": true, "🤫": true, "🤭": true,
	"🥰": true, "🥳": true, "👍": true, "👎": true, "👌": true, "👋": true,
	"👏": true, "🙏": true, "💪": true, "👀": true, "🎉": true, "🎊": true,
	"🎁": true, "🎂": true, "🔥": true, "💯": true, "🚀": true, "🏆": true,
	"💡": true, "💩": true, "👻": true, "💀": true, "🤖": true, "🙈": true,
	"🙉": true, "🙊": true, "🌟": true, "🌈": true, "🍀": true, "🌹": true,
	"🍺": true, "🍻": true, "🍕": true, "🍪": true, "🍎": true, "🐶": true,
	"🐱": true, "🦄": true, "✅": true, "❌": true, "⭐": true, "⚡": true,
	"☕": true, "⌛": true,
	"❤": true, "☺": true, "☀": true, "✔": true,
	"❤\ufe0f": true, "☺\ufe0f": true, "☀\ufe0f": true, "☁\ufe0f": true,
	"✔\ufe0f": true, "✌\ufe0f": true, "☝\ufe0f": true, "⚠\ufe0f": true,
}
