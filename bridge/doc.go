// Package bridge carries cross-process notifications between the local NotificationBus and an
// external broker topic.
//
// Outbound, a Forwarder subscribes to every event type the Codec knows and hands each event to
// a Publisher, which encodes it and sends it through a bus.Sender. Inbound, a Listener drains a
// bus.Receiver, decodes each delivery and republishes it on the local bus, acknowledging only
// after every local subscriber succeeded. Delivery is at least once; subscribers of bridged
// events must tolerate duplicates.
package bridge
