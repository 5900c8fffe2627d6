// Package mqtt mirrors every report the bot sends onto an MQTT broker,
// so a home automation system or dashboard can follow along without
// reading the chat.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained "online" to the availability
// topic and, unless disabled, a Home Assistant discovery config for a
// "last referee" sensor. A will message flips availability to
// "offline" on unexpected disconnects.
package mqtt
