// Package config handles configuration loading for live-companion.
//
// # Configuration File
//
// Location:
//
//  1. Path from LIVE_COMPANION_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/live-companion/config.yaml
//
// Files ending in .toml are read as TOML; anything else as YAML. A missing
// file is not an error for the CLI, which falls back to Default.
//
// # Environment Variable Expansion
//
//	realtime:
//	  api_key: "${DASHSCOPE_API_KEY}"
//
// When realtime.api_key is empty, LIVE_COMPANION_API_KEY is used.
//
// # Example
//
//	realtime:
//	  url: "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"
//	  model: "qwen3-omni-flash-realtime"
//	  voice: "Cherry"
//
//	storage:
//	  data_dir: "/srv/live-companion"
//
//	session:
//	  enable_image_input: true
//	  language: "zh-CN"
//	  category: "liveAI"
//	  reconnect_delay: "400ms"
//	  image_unlock_delay: "1s"
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text or json
//
// Durations use time.ParseDuration syntax.
package config
