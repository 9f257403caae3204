package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"RiskPilot-Chain/internal/config"
	"RiskPilot-Chain/internal/ledger"
	"RiskPilot-Chain/internal/ledger/network"
	"RiskPilot-Chain/internal/llm"
	"RiskPilot-Chain/internal/llm/openai"
	"RiskPilot-Chain/internal/market"
	"RiskPilot-Chain/internal/observability/alerting"
	"RiskPilot-Chain/internal/storage/mysql"
	"RiskPilot-Chain/internal/storage/redis"
	"RiskPilot-Chain/internal/task"
)

// cacheCloser 是 market 缓存加上释放连接的能力。
type cacheCloser interface {
	market.Cache
	Close() error
}

// conversationStore 同时满足编排器写入与 API 查询。
type conversationStore interface {
	Save(ctx context.Context, record mysql.Conversation) error
	ListLatest(ctx context.Context, userID string, limit int) ([]mysql.Conversation, error)
	Close() error
}

// createHoldings 在 demo 模式下返回静态持仓，否则按 networks 文件连接镜像节点与 JSON-RPC relay。
func createHoldings(ctx context.Context, cfg *config.Config) (ledger.HoldingsFetcher, func(), error) {
	if cfg.Ledger.Demo {
		return ledger.NewStatic(demoAccounts(cfg.Ledger.Accounts)), func() {}, nil
	}
	defs, err := network.LoadDefinitions(cfg.Ledger.NetworksFile)
	if err != nil {
		return nil, nil, err
	}
	registry, err := network.NewRegistry(ctx, defs)
	if err != nil {
		return nil, nil, err
	}
	return registry.Default(), registry.Close, nil
}

func demoAccounts(accounts map[string]config.AccountConfig) map[string]ledger.Holdings {
	out := make(map[string]ledger.Holdings, len(accounts))
	for id, acc := range accounts {
		tokens := make([]ledger.TokenBalance, 0, len(acc.Tokens))
		for _, t := range acc.Tokens {
			tokens = append(tokens, ledger.TokenBalance{
				TokenID:  t.TokenID,
				Symbol:   t.Symbol,
				Balance:  t.Balance,
				Decimals: t.Decimals,
			})
		}
		sort.SliceStable(tokens, func(i, j int) bool { return tokens[i].Symbol < tokens[j].Symbol })
		out[id] = ledger.Holdings{Account: id, HBAR: acc.HBAR, Tokens: tokens}
	}
	return out
}

func createCache(ctx context.Context, cfg *config.Config) (cacheCloser, error) {
	rc := cfg.Storage.Redis
	if !rc.Enabled {
		return redis.NewMemoryCache(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return redis.NewRedisCache(connectCtx, redis.Config{
		Address:  rc.Address,
		Password: rc.Password(),
		DB:       rc.DB,
		Prefix:   rc.Prefix,
	})
}

func createSentiment(cfg *config.Config, cache market.Cache) market.SentimentSource {
	news := cfg.Market.News
	if !news.Enabled {
		return market.StaticSentiment{Sentiment: "neutral"}
	}
	client := market.NewNewsClient(market.NewsConfig{
		BaseURL: news.BaseURL,
		APIKey:  news.APIKey(),
		Timeout: news.Timeout.Std(),
	})
	return market.NewCachedSentiment(client, cache, cfg.Market.CacheTTL.Std())
}

func createPrices(cfg *config.Config, cache market.Cache) market.PriceSource {
	prices := cfg.Market.Prices
	if !prices.Enabled {
		return market.SyntheticPrices{}
	}
	client := market.NewPriceClient(market.PriceConfig{
		BaseURL: prices.BaseURL,
		APIKey:  prices.APIKey(),
		Timeout: prices.Timeout.Std(),
	})
	return market.NewCachedPrices(client, cache, cfg.Market.CacheTTL.Std())
}

// createLLMClient 返回 nil 表示不做润色，编排器直接回复规则生成的文本。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		apiKey := cfg.LLM.OpenAI.APIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI provider 需要设置环境变量 %s", cfg.LLM.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Timeout:     cfg.LLM.OpenAI.Timeout.Std(),
			Temperature: cfg.LLM.OpenAI.Temperature,
			MaxTokens:   cfg.LLM.OpenAI.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func mysqlConfig(cfg *config.Config) mysql.Config {
	m := cfg.Storage.MySQL
	return mysql.Config{
		DSN:             m.DSN,
		MaxOpenConns:    m.MaxOpenConns,
		MaxIdleConns:    m.MaxIdleConns,
		ConnMaxLifetime: m.ConnMaxLifetime.Std(),
		ConnMaxIdleTime: m.ConnMaxIdleTime.Std(),
		DialTimeout:     m.DialTimeout.Std(),
	}
}

func createConversations(ctx context.Context, cfg *config.Config) (conversationStore, error) {
	switch cfg.Storage.Conversations.Driver {
	case "", "file":
		return mysql.NewFileConversationRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLConversationRepository(ctx, mysqlConfig(cfg))
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func createTaskStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.Task.Store {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		return task.NewMySQLStore(ctx, mysqlConfig(cfg))
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func createTaskQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	q := cfg.Task.Queue
	switch q.Driver {
	case "", "memory":
		return task.NewMemoryQueue(q.Buffer), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password(),
			DB:        cfg.Storage.Redis.DB,
			Queue:     q.Name,
			BlockWait: q.BlockWait.Std(),
		})
	case "rabbitmq":
		rq := cfg.Task.RabbitMQ
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        rq.URL,
			Queue:      q.Name,
			Prefetch:   rq.Prefetch,
			Durable:    rq.Durable,
			AutoDelete: rq.AutoDelete,
		})
	default:
		return nil, errors.New("未知的队列驱动: " + q.Driver)
	}
}

// createAlerts 返回 nil 表示未配置任何告警渠道。
func createAlerts(cfg *config.Config) alerting.Dispatcher {
	ac := cfg.Observability.Alerts
	if !ac.Enabled() {
		return nil
	}
	var notifiers []alerting.Notifier
	if ac.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if url := ac.WebhookURL(); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    url,
			Client: &http.Client{Timeout: ac.WebhookTimeout.Std()},
		})
	}
	return alerting.NewFanout(notifiers...)
}
