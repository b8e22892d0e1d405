// Package ytdlp wraps the yt-dlp command line tool so the download stage can
// fetch Instagram media and observe structured progress updates.
//
// It exposes a Client interface and a CLI implementation that shells out to
// yt-dlp with a JSON progress template. Tests can swap in fakes to avoid
// executing the real downloader while still exercising workflow behaviour.
package ytdlp
