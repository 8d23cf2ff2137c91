package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	BackendEsplora  = "esplora"
	BackendBitcoind = "bitcoind"
)

type YamlConf struct {
	Chain     string    `yaml:"chain"`
	ShareRPC  ShareRPC  `yaml:"share_rpc"`
	Log       Log       `yaml:"log"`
	WebSocket WebSocket `yaml:"websocket"`
	Backend   Backend   `yaml:"backend"`
	Policy    Policy    `yaml:"policy"`
	Prices    PricesCfg `yaml:"prices"`
}

type ShareRPC struct {
	Bitcoin Bitcoin `yaml:"bitcoin"`
}

type Bitcoin struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Log struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type WebSocket struct {
	Listen              string `yaml:"listen"`
	MaxTrackedAddresses int    `yaml:"max_tracked_addresses"`
	InitialBlocksAmount int    `yaml:"initial_blocks_amount"`
	RateLimit           int    `yaml:"rate_limit"`
}

type Backend struct {
	Kind       string `yaml:"kind"`
	EsploraURL string `yaml:"esplora_url"`
}

type Policy struct {
	Audit              bool `yaml:"audit"`
	Accelerations      bool `yaml:"accelerations"`
	AdvancedGbtMempool bool `yaml:"advanced_gbt_mempool"`
	AdvancedGbtAudit   bool `yaml:"advanced_gbt_audit"`
	RustGbt            bool `yaml:"rust_gbt"`
}

type PricesCfg struct {
	URL      string `yaml:"url"`
	Interval int    `yaml:"interval"`
}

func InitConfig(cfgPath string) *YamlConf {
	if cfgPath == "" {
		cfgPath = "./config.yaml"
	}

	conf := defaultConf()
	content, err := os.ReadFile(cfgPath)
	if err != nil {
		fmt.Printf("config %s not found, using defaults\n", cfgPath)
		return conf
	}

	err = yaml.Unmarshal(content, conf)
	if err != nil {
		fmt.Printf("failed to parse %s: %v, using defaults\n", cfgPath, err)
		return defaultConf()
	}

	if conf.Log.Path == "" {
		exePath, _ := os.Executable()
		conf.Log.Path = filepath.Join(filepath.Dir(exePath), "log")
	}
	if conf.WebSocket.MaxTrackedAddresses <= 0 {
		conf.WebSocket.MaxTrackedAddresses = 10000
	}
	if conf.WebSocket.InitialBlocksAmount <= 0 {
		conf.WebSocket.InitialBlocksAmount = 8
	}
	if conf.WebSocket.Listen == "" {
		conf.WebSocket.Listen = "0.0.0.0:8999"
	}
	return conf
}

func defaultConf() *YamlConf {
	return &YamlConf{
		Chain: "mainnet",
		ShareRPC: ShareRPC{
			Bitcoin: Bitcoin{Host: "127.0.0.1", Port: 8332},
		},
		Log: Log{Level: "info", Path: "./log"},
		WebSocket: WebSocket{
			Listen:              "0.0.0.0:8999",
			MaxTrackedAddresses: 10000,
			InitialBlocksAmount: 8,
			RateLimit:           10,
		},
		Backend: Backend{Kind: BackendBitcoind},
		Policy:  Policy{},
		Prices: PricesCfg{
			URL:      "https://mempool.space/api/v1/prices",
			Interval: 120,
		},
	}
}
