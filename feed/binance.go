package feed

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradedeck/logger"
	"tradedeck/reconcile"
)

// WebSocket 地址
const (
	MainnetWsBase = "wss://fstream.binance.com"
	TestnetWsBase = "wss://stream.binancefuture.com"
)

// BinanceClient 币安合约数据客户端
// 只读：仅拉取持仓、账户与订单数据，不下单
type BinanceClient struct {
	client     *futures.Client
	useTestnet bool
}

// NewBinanceClient 创建币安数据客户端
func NewBinanceClient(apiKey, secretKey string, useTestnet bool) (*BinanceClient, error) {
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}

	// 测试网模式必须在创建客户端之前设置
	futures.UseTestnet = useTestnet
	if useTestnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}

	client := futures.NewClient(apiKey, secretKey)

	// 同步服务器时间，避免签名时间戳偏差
	client.NewSetServerTimeService().Do(context.Background())

	return &BinanceClient{client: client, useTestnet: useTestnet}, nil
}

// WsBase 当前网络对应的 WebSocket 基础地址
func (bc *BinanceClient) WsBase() string {
	if bc.useTestnet {
		return TestnetWsBase
	}
	return MainnetWsBase
}

// FetchSnapshot 拉取全量持仓与账户快照
// 持仓接口失败视为整体失败；账户接口失败时降级为仅持仓快照（Account 为空）
func (bc *BinanceClient) FetchSnapshot(ctx context.Context, generation uint64) (*reconcile.Snapshot, error) {
	risks, err := bc.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}

	positions := make([]*reconcile.Position, 0, len(risks))
	for _, risk := range risks {
		posAmt, _ := strconv.ParseFloat(risk.PositionAmt, 64)
		if posAmt == 0 {
			continue
		}
		entryPrice, _ := strconv.ParseFloat(risk.EntryPrice, 64)
		markPrice, _ := strconv.ParseFloat(risk.MarkPrice, 64)
		liqPrice, _ := strconv.ParseFloat(risk.LiquidationPrice, 64)
		leverage, _ := strconv.ParseFloat(risk.Leverage, 64)

		side := reconcile.SideLong
		qty := posAmt
		if posAmt < 0 || risk.PositionSide == "SHORT" {
			side = reconcile.SideShort
			if qty < 0 {
				qty = -qty
			}
		}

		pos := &reconcile.Position{
			Symbol:           risk.Symbol,
			Side:             side,
			Quantity:         qty,
			AvgPrice:         entryPrice,
			CurrentPrice:     markPrice,
			Leverage:         leverage,
			LiquidationPrice: liqPrice,
		}
		positions = append(positions, pos)
	}

	snap := &reconcile.Snapshot{
		Generation: generation,
		Positions:  positions,
	}

	// 账户余额单独拉取，失败不阻塞持仓更新
	if account, aerr := bc.fetchAccount(ctx); aerr != nil {
		logger.Warn("⚠️ [Binance] 查询账户余额失败, 本轮仅更新持仓: %v", aerr)
	} else {
		snap.Account = account
	}

	return snap, nil
}

// fetchAccount 拉取合约账户 USDT 余额
func (bc *BinanceClient) fetchAccount(ctx context.Context) (*reconcile.AccountSnapshot, error) {
	account, err := bc.client.NewGetAccountService().Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Service unavailable from a restricted location") {
			return nil, fmt.Errorf("你的网络连接在限制服务区域，请检查网络或使用代理")
		}
		return nil, err
	}

	snap := &reconcile.AccountSnapshot{}
	for _, asset := range account.Assets {
		if asset.Asset == "USDT" || asset.Asset == "USDC" || asset.Asset == "BUSD" {
			available, _ := strconv.ParseFloat(asset.AvailableBalance, 64)
			marginBalance, _ := strconv.ParseFloat(asset.MarginBalance, 64)
			snap.USDTFree += available
			snap.USDTTotal += marginBalance
		}
	}
	return snap, nil
}

// mapOrderStatus 交易所订单状态映射到成交记录状态
func mapOrderStatus(status futures.OrderStatusType) string {
	switch status {
	case futures.OrderStatusTypeFilled:
		return "filled"
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return "failed"
	default:
		return "pending"
	}
}

// mapOrderSide 交易所订单方向映射到成交记录方向
// BUY=开多 SELL=平多 SHORT=开空 COVER=平空
func mapOrderSide(side futures.SideType, positionSide futures.PositionSideType, reduceOnly bool) string {
	short := positionSide == futures.PositionSideTypeShort
	if !short && positionSide != futures.PositionSideTypeLong {
		// 单向模式：reduce_only 的卖单平多、买单平空
		short = reduceOnly == (side == futures.SideTypeBuy)
	}
	if short {
		if side == futures.SideTypeSell {
			return "SHORT"
		}
		return "COVER"
	}
	if side == futures.SideTypeBuy {
		return "BUY"
	}
	return "SELL"
}

// realizedPnLByOrder 按订单号汇总成交明细的已实现盈亏
// 同一订单的多笔撮合分别带各自的盈亏，这里累加回订单粒度
func realizedPnLByOrder(trades []*futures.AccountTrade) map[int64]float64 {
	out := make(map[int64]float64, len(trades))
	for _, trade := range trades {
		if trade == nil {
			continue
		}
		pnl, err := strconv.ParseFloat(trade.RealizedPnl, 64)
		if err != nil {
			continue
		}
		out[trade.OrderID] += pnl
	}
	return out
}

// FetchTradeHistory 拉取各交易对的最近订单并映射为成交记录
// 记录 id 取交易所订单号（单调递增，与通知水位线的比较语义一致）
func (bc *BinanceClient) FetchTradeHistory(ctx context.Context, symbols []string, limit int) ([]*reconcile.TradeRecord, error) {
	if limit <= 0 {
		limit = 200
	}

	records := make([]*reconcile.TradeRecord, 0, limit)
	for _, symbol := range symbols {
		orders, err := bc.client.NewListOrdersService().Symbol(symbol).Limit(limit).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("查询订单历史失败 %s: %w", symbol, err)
		}

		// 已实现盈亏在成交明细上，订单接口不返回；拉取失败降级为 0
		var pnlByOrder map[int64]float64
		if trades, terr := bc.client.NewListAccountTradeService().Symbol(symbol).Limit(limit).Do(ctx); terr != nil {
			logger.Warn("⚠️ [Binance] 查询成交明细失败 %s, 已实现盈亏按 0 处理: %v", symbol, terr)
		} else {
			pnlByOrder = realizedPnLByOrder(trades)
		}

		for _, order := range orders {
			avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
			cumQuote, _ := strconv.ParseFloat(order.CumQuote, 64)
			if avgPrice == 0 {
				avgPrice, _ = strconv.ParseFloat(order.Price, 64)
			}
			records = append(records, &reconcile.TradeRecord{
				ID:              order.OrderID,
				Symbol:          order.Symbol,
				Side:            mapOrderSide(order.Side, order.PositionSide, order.ReduceOnly),
				Status:          mapOrderStatus(order.Status),
				Price:           avgPrice,
				QuoteAmount:     cumQuote,
				RealizedPnL:     pnlByOrder[order.OrderID],
				ExchangeOrderID: strconv.FormatInt(order.OrderID, 10),
				CreatedAt:       time.UnixMilli(order.Time),
			})
		}
	}

	// 按时间倒序，最新的在前（展示顺序）
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// StartUserStream 创建用户数据流 listenKey
func (bc *BinanceClient) StartUserStream(ctx context.Context) (string, error) {
	return bc.client.NewStartUserStreamService().Do(ctx)
}

// KeepAliveUserStream 对 listenKey 保活
func (bc *BinanceClient) KeepAliveUserStream(ctx context.Context, listenKey string) error {
	return bc.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
}
