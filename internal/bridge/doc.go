// Package bridge maps Scheiber outputs to Home Assistant MQTT entities.
//
// Each configured output is represented by an MQTTLight or MQTTSwitch
// that owns its discovery document, state topic, command topic and
// availability topic. Lights use the Home Assistant JSON schema with
// brightness, transitions (13 easing effects) and flash; switches use
// the plain ON/OFF form.
//
// The layering is non-negotiable: entities subscribe to hardware outputs
// and call their methods, and never write CAN frames themselves — the
// alternative has repeatedly re-introduced echo-versus-state bugs.
//
// Retained command messages are age-gated: a retained command whose
// embedded timestamp is older than five minutes produces no output
// mutation and the retained topic is cleared, so a crash and restart
// does not replay stale commands.
package bridge
