// Package config loads, validates, and normalizes instaweb configuration.
//
// Configuration comes from a TOML file with container-friendly environment
// overrides layered on top (PORT, INSTAWEB_API_KEY, INSTAGRAM_COOKIES,
// FFMPEG_PATH, RATE_LIMIT_*, YTDLP_*). File values are defaults; environment
// values win so the same image can be reconfigured without editing files.
package config
