package domain

import "time"

// ChannelCredential is the OAuth grant material for one channel. The
// pipeline only reads it; provisioning happens outside this service.
type ChannelCredential struct {
	ChannelID    string    `db:"channel_id"`
	ChannelName  string    `db:"channel_name"`
	ClientID     string    `db:"client_id"`
	ClientSecret string    `db:"client_secret"`
	RefreshToken string    `db:"refresh_token"`
	CreatedAt    time.Time `db:"created_at"`
}
