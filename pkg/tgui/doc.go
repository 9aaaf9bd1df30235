// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders (answer options, yes/no, address search)
//   - Callback data helpers ("prefix:action:payload") with a token fallback
//     for payloads over Telegram's 64 byte limit
//   - HTML escaping for ParseMode="HTML"
package tgui
