package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for Discord objects.
const (
	GuildKey   = attribute.Key("discord.guild_id")
	ChannelKey = attribute.Key("discord.channel_id")
	CommandKey = attribute.Key("bot.command")
)

func GuildAttr(guildID string) attribute.KeyValue     { return GuildKey.String(guildID) }
func ChannelAttr(channelID string) attribute.KeyValue { return ChannelKey.String(channelID) }

// CommandAttr names the prefix command a span runs, without the prefix.
func CommandAttr(name string) attribute.KeyValue { return CommandKey.String(name) }

func HTTPMethodAttr(method string) attribute.KeyValue { return semconv.HTTPMethod(method) }
func HTTPRouteAttr(route string) attribute.KeyValue   { return semconv.HTTPRoute(route) }

// SetSpanHTTPStatus records the response status code on the span.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(semconv.HTTPStatusCode(status))
}
