// Package mqtt publishes studio status to an MQTT broker using Home
// Assistant discovery, so the edit bay's dashboard shows Montage as a
// native device: agent state, current project, steps and tokens spent
// today, last finished run, version and uptime.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each sensor entity and a birth message ("online") to the
// availability topic. A will message ensures the availability topic
// transitions to "offline" on unexpected disconnects. Sensor values
// come from a bus-fed [StudioStats] tracker.
package mqtt
