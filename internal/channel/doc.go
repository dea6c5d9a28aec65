// Package channel implements the session pub/sub layer: a tagged wire
// envelope with a fixed schema per event type, a websocket client used by
// game sessions, and the relay hub that fans events out per session code.
//
// The relay is deliberately dumb. It tracks presence, stamps join times, and
// forwards action, snapshot, and kick events without inspecting game state;
// authority election and the turn barrier run entirely on the clients.
package channel
