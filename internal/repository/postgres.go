// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/cartengine-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrCartNotFound возвращается, если корзина не найдена или принадлежит другой организации.
var (
	ErrCartNotFound = errors.New("cart not found")
	// ErrClientNotFound возвращается, если клиент из сессии не существует.
	ErrClientNotFound = errors.New("client not found")
	// ErrProductNotFound возвращается, если товар отсутствует и в каталоге, и среди партнёрских товаров.
	ErrProductNotFound = errors.New("product not found")
	// ErrPricingNotFound возвращается, если для страны не настроена цена товара.
	ErrPricingNotFound = errors.New("pricing not found for country")
	// ErrNoPointsPrice возвращается, если для партнёрского товара не настроена цена в баллах.
	ErrNoPointsPrice = errors.New("no points price configured")
	// ErrInsufficientPoints возвращается при попытке резервирования баллов сверх баланса.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrInsufficientStock возвращается при запрете перезаказа, если остатка не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTxConflict возвращается, если трансакция не прошла после всех повторов
	// из-за сериализационного сбоя или дедлока; вызов можно повторить.
	ErrTxConflict = errors.New("transaction conflict")
)

// db объединяет pgxpool.Pool и pgx.Tx для запросов, выполняемых и в трансакции, и вне её.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CartTx предоставляет операции над данными корзины внутри одной трансакции мутации.
type CartTx interface {
	GetCart(ctx context.Context, cartID int64, orgID string) (*model.Cart, error)
	GetLineForUpdate(ctx context.Context, cartID int64, ref model.ProductRef) (*model.CartLine, error)
	ListLinesForUpdate(ctx context.Context, cartID int64) ([]model.CartLine, error)
	FindCatalogItem(ctx context.Context, itemID string) (*model.CatalogItem, error)
	ResolvePrice(ctx context.Context, ref model.ProductRef, country, levelID string) (decimal.Decimal, error)
	ResolvePoints(ctx context.Context, ref model.ProductRef, levelID string) (int64, error)
	InsertLine(ctx context.Context, line *model.CartLine) (int64, error)
	UpdateLine(ctx context.Context, lineID int64, quantity int, unitPrice decimal.Decimal) error
	UpdateLinePrice(ctx context.Context, lineID int64, unitPrice decimal.Decimal) error
	DeleteLine(ctx context.Context, lineID int64) error
	ReservePoints(ctx context.Context, clientID int64, orgID string, points int64, description string) error
	RefundPoints(ctx context.Context, clientID int64, orgID string, points int64, description string) error
	AdjustStock(ctx context.Context, ref model.ProductRef, country string, delta int) error
	StampCartHash(ctx context.Context, cartID int64, hash string) error
	ListLineViews(ctx context.Context, cartID int64) ([]model.CartLineView, error)
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	allowBackorder bool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, allowBackorder bool) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, allowBackorder: allowBackorder}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	sdb := stdlib.OpenDBFromPool(r.pool)
	defer sdb.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sdb, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при сериализационных сбоях, дедлоках и сетевых ошибках.
// Ошибки бизнес-логики и отменённый контекст не повторяются.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// MutateCart выполняет fn внутри одной трансакции БД: либо фиксируются все
// эффекты мутации, либо ни один. Блокировки строк берёт сама fn.
// Исчерпание повторов на сериализационном сбое или дедлоке отдаётся
// как ErrTxConflict.
func (r *PostgresRepository) MutateCart(ctx context.Context, fn func(ctx context.Context, tx CartTx) error) error {
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, &cartTx{tx: tx, allowBackorder: r.allowBackorder}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
		return ErrTxConflict
	}
	return err
}

// EnsureCart возвращает корзину клиента для канала, создавая её при первом обращении.
func (r *PostgresRepository) EnsureCart(ctx context.Context, clientID int64, orgID string, channel model.Channel) (*model.Cart, error) {
	// Новая корзина сразу получает отпечаток пустого содержимого, чтобы
	// взаимно обратные мутации возвращали ровно исходный отпечаток.
	_, err := r.pool.Exec(ctx,
		`INSERT INTO carts (client_id, organization_id, channel, cart_updated_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (client_id, channel) DO NOTHING`,
		clientID, orgID, string(channel), model.CartContentHash(nil),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("insert cart: %w", err)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT c.id, c.client_id, c.organization_id, c.channel, cl.country, cl.level_id, c.cart_updated_hash, c.updated_at
		 FROM carts c
		 JOIN clients cl ON cl.id = c.client_id
		 WHERE c.client_id = $1 AND c.channel = $2 AND c.organization_id = $3`,
		clientID, string(channel), orgID,
	)
	return scanCart(row)
}

// GetCartSnapshot возвращает снимок корзины без мутации и не меняет её отпечаток.
func (r *PostgresRepository) GetCartSnapshot(ctx context.Context, cartID int64, orgID string) (*model.CartSnapshot, error) {
	cart, err := getCart(ctx, r.pool, cartID, orgID)
	if err != nil {
		return nil, err
	}

	views, err := listLineViews(ctx, r.pool, cartID)
	if err != nil {
		return nil, err
	}

	return &model.CartSnapshot{Lines: views, UpdatedHash: cart.UpdatedHash}, nil
}

// cartTx реализует CartTx поверх открытой pgx-трансакции.
type cartTx struct {
	tx             pgx.Tx
	allowBackorder bool
}

func (t *cartTx) GetCart(ctx context.Context, cartID int64, orgID string) (*model.Cart, error) {
	return getCart(ctx, t.tx, cartID, orgID)
}

func getCart(ctx context.Context, q db, cartID int64, orgID string) (*model.Cart, error) {
	row := q.QueryRow(ctx,
		`SELECT c.id, c.client_id, c.organization_id, c.channel, cl.country, cl.level_id, c.cart_updated_hash, c.updated_at
		 FROM carts c
		 JOIN clients cl ON cl.id = c.client_id
		 WHERE c.id = $1 AND c.organization_id = $2`,
		cartID, orgID,
	)
	return scanCart(row)
}

func scanCart(row pgx.Row) (*model.Cart, error) {
	var (
		c       model.Cart
		channel string
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.OrganizationID, &channel, &c.Country, &c.LevelID, &c.UpdatedHash, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	c.Channel = model.Channel(channel)
	return &c, nil
}

// GetLineForUpdate возвращает позицию корзины под блокировкой либо nil, если позиции нет.
func (t *cartTx) GetLineForUpdate(ctx context.Context, cartID int64, ref model.ProductRef) (*model.CartLine, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, cart_id, kind, item_id, variation_id, quantity, unit_price, created_at, updated_at
		 FROM cart_lines
		 WHERE cart_id = $1 AND kind = $2 AND item_id = $3 AND variation_id = $4
		 FOR UPDATE`,
		cartID, string(ref.Kind), ref.ItemID, ref.VariationID,
	)

	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart line: %w", err)
	}
	return line, nil
}

// ListLinesForUpdate блокирует и возвращает все позиции корзины.
// Блокировка всех строк нужна перед пересчётом цен соседей по правилу.
func (t *cartTx) ListLinesForUpdate(ctx context.Context, cartID int64) ([]model.CartLine, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, cart_id, kind, item_id, variation_id, quantity, unit_price, created_at, updated_at
		 FROM cart_lines
		 WHERE cart_id = $1
		 ORDER BY id
		 FOR UPDATE`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart lines: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, *line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

func scanLine(row pgx.Row) (*model.CartLine, error) {
	var (
		l    model.CartLine
		kind string
	)
	err := row.Scan(&l.ID, &l.CartID, &kind, &l.Ref.ItemID, &l.Ref.VariationID, &l.Quantity, &l.UnitPrice, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Ref.Kind = model.LineKind(kind)
	return &l, nil
}

// FindCatalogItem ищет товар сначала в каталоге, затем среди партнёрских товаров.
func (t *cartTx) FindCatalogItem(ctx context.Context, itemID string) (*model.CatalogItem, error) {
	var item model.CatalogItem

	err := t.tx.QueryRow(ctx,
		`SELECT id, organization_id, title, description, image, sku
		 FROM products WHERE id = $1`,
		itemID,
	).Scan(&item.ID, &item.OrganizationID, &item.Title, &item.Description, &item.Image, &item.SKU)
	if err == nil {
		item.Kind = model.KindRegular
		return &item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get product: %w", err)
	}

	err = t.tx.QueryRow(ctx,
		`SELECT id, organization_id, min_level_id, title, description, image, sku
		 FROM affiliate_products WHERE id = $1`,
		itemID,
	).Scan(&item.ID, &item.OrganizationID, &item.MinLevelID, &item.Title, &item.Description, &item.Image, &item.SKU)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get affiliate product: %w", err)
	}

	item.Kind = model.KindAffiliate
	return &item, nil
}

// ResolvePrice возвращает базовую цену товара для страны и уровня клиента.
// Строка с точной вариацией предпочтительнее общей, точный уровень — уровня по умолчанию.
func (t *cartTx) ResolvePrice(ctx context.Context, ref model.ProductRef, country, levelID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := t.tx.QueryRow(ctx,
		`SELECT price FROM product_prices
		 WHERE product_id = $1
		   AND (variation_id = $2 OR variation_id = '')
		   AND country = $3
		   AND (level_id = $4 OR level_id = '')
		 ORDER BY (variation_id = $2) DESC, (level_id = $4) DESC
		 LIMIT 1`,
		ref.ItemID, ref.VariationID, country, levelID,
	).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Decimal{}, ErrPricingNotFound
		}
		return decimal.Decimal{}, fmt.Errorf("resolve price: %w", err)
	}
	return price, nil
}

// ResolvePoints возвращает цену партнёрского товара в баллах: сначала salePoints
// (точный уровень, затем уровень по умолчанию), потом regularPoints тем же порядком.
func (t *cartTx) ResolvePoints(ctx context.Context, ref model.ProductRef, levelID string) (int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT sale_points, regular_points FROM affiliate_product_prices
		 WHERE affiliate_product_id = $1
		   AND (variation_id = $2 OR variation_id = '')
		   AND (level_id = $3 OR level_id = '')
		 ORDER BY (variation_id = $2) DESC, (level_id = $3) DESC`,
		ref.ItemID, ref.VariationID, levelID,
	)
	if err != nil {
		return 0, fmt.Errorf("resolve points: %w", err)
	}
	defer rows.Close()

	var regularFallback int64
	for rows.Next() {
		var sale, regular int64
		if err := rows.Scan(&sale, &regular); err != nil {
			return 0, fmt.Errorf("scan points price: %w", err)
		}
		if sale > 0 {
			return sale, nil
		}
		if regularFallback == 0 && regular > 0 {
			regularFallback = regular
		}
	}

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows error: %w", err)
	}

	if regularFallback > 0 {
		return regularFallback, nil
	}
	return 0, ErrNoPointsPrice
}

// InsertLine создаёт новую позицию корзины и возвращает её идентификатор.
func (t *cartTx) InsertLine(ctx context.Context, line *model.CartLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO cart_lines (cart_id, kind, item_id, variation_id, quantity, unit_price)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		line.CartID, string(line.Ref.Kind), line.Ref.ItemID, line.Ref.VariationID, line.Quantity, line.UnitPrice,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert cart line: %w", err)
	}
	return id, nil
}

// UpdateLine обновляет количество и цену позиции.
func (t *cartTx) UpdateLine(ctx context.Context, lineID int64, quantity int, unitPrice decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE cart_lines SET quantity = $2, unit_price = $3, updated_at = now() WHERE id = $1`,
		lineID, quantity, unitPrice,
	)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	return nil
}

// UpdateLinePrice переписывает цену позиции при пересчёте объёмного правила.
func (t *cartTx) UpdateLinePrice(ctx context.Context, lineID int64, unitPrice decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE cart_lines SET unit_price = $2, updated_at = now() WHERE id = $1`,
		lineID, unitPrice,
	)
	if err != nil {
		return fmt.Errorf("update line price: %w", err)
	}
	return nil
}

// DeleteLine удаляет позицию; позиция с нулевым количеством существовать не должна.
func (t *cartTx) DeleteLine(ctx context.Context, lineID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

// lockBalance создаёт при необходимости нулевой баланс и блокирует его строку.
func (t *cartTx) lockBalance(ctx context.Context, clientID int64, orgID string) (*model.PointBalance, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO affiliate_point_balances (client_id, organization_id, points_current, points_spent)
		 VALUES ($1, $2, 0, 0)
		 ON CONFLICT (client_id, organization_id) DO NOTHING`,
		clientID, orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert balance: %w", err)
	}

	b := model.PointBalance{ClientID: clientID, OrganizationID: orgID}
	err = t.tx.QueryRow(ctx,
		`SELECT points_current, points_spent FROM affiliate_point_balances
		 WHERE client_id = $1 AND organization_id = $2
		 FOR UPDATE`,
		clientID, orgID,
	).Scan(&b.Current, &b.Spent)
	if err != nil {
		return nil, fmt.Errorf("lock balance for update: %w", err)
	}

	return &b, nil
}

// ReservePoints списывает баллы под блокировкой строки баланса и пишет запись журнала.
func (t *cartTx) ReservePoints(ctx context.Context, clientID int64, orgID string, points int64, description string) error {
	balance, err := t.lockBalance(ctx, clientID, orgID)
	if err != nil {
		return err
	}

	if balance.Current < points {
		return ErrInsufficientPoints
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE affiliate_point_balances
		 SET points_current = points_current - $3, points_spent = points_spent + $3
		 WHERE client_id = $1 AND organization_id = $2`,
		clientID, orgID, points,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	return t.appendPointLog(ctx, clientID, orgID, -points, model.PointActionSpend, description)
}

// RefundPoints возвращает баллы; points_spent не опускается ниже нуля.
func (t *cartTx) RefundPoints(ctx context.Context, clientID int64, orgID string, points int64, description string) error {
	if _, err := t.lockBalance(ctx, clientID, orgID); err != nil {
		return err
	}

	_, err := t.tx.Exec(ctx,
		`UPDATE affiliate_point_balances
		 SET points_current = points_current + $3, points_spent = GREATEST(points_spent - $3, 0)
		 WHERE client_id = $1 AND organization_id = $2`,
		clientID, orgID, points,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	return t.appendPointLog(ctx, clientID, orgID, points, model.PointActionRefund, description)
}

func (t *cartTx) appendPointLog(ctx context.Context, clientID int64, orgID string, points int64, action model.PointLogAction, description string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO affiliate_point_logs (organization_id, client_id, points, action, description)
		 VALUES ($1, $2, $3, $4, $5)`,
		orgID, clientID, points, string(action), description,
	)
	if err != nil {
		return fmt.Errorf("insert point log: %w", err)
	}
	return nil
}

// AdjustStock применяет знаковую дельту к остатку. Ключ остатка — вариация,
// если она есть, иначе товар. При запрете перезаказа остаток не уходит в минус.
func (t *cartTx) AdjustStock(ctx context.Context, ref model.ProductRef, country string, delta int) error {
	productKey := ref.ItemID
	variationKey := ""
	if ref.VariationID != "" {
		productKey = ""
		variationKey = ref.VariationID
	}

	if t.allowBackorder {
		_, err := t.tx.Exec(ctx,
			`INSERT INTO stock_records (product_id, variation_id, country, quantity)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (product_id, variation_id, country)
			 DO UPDATE SET quantity = stock_records.quantity + EXCLUDED.quantity`,
			productKey, variationKey, country, delta,
		)
		if err != nil {
			return fmt.Errorf("adjust stock: %w", err)
		}
		return nil
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO stock_records (product_id, variation_id, country, quantity)
		 VALUES ($1, $2, $3, 0)
		 ON CONFLICT (product_id, variation_id, country) DO NOTHING`,
		productKey, variationKey, country,
	)
	if err != nil {
		return fmt.Errorf("insert stock record: %w", err)
	}

	var quantity int
	err = t.tx.QueryRow(ctx,
		`SELECT quantity FROM stock_records
		 WHERE product_id = $1 AND variation_id = $2 AND country = $3
		 FOR UPDATE`,
		productKey, variationKey, country,
	).Scan(&quantity)
	if err != nil {
		return fmt.Errorf("lock stock record: %w", err)
	}

	if quantity+delta < 0 {
		return ErrInsufficientStock
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE stock_records SET quantity = quantity + $4
		 WHERE product_id = $1 AND variation_id = $2 AND country = $3`,
		productKey, variationKey, country, delta,
	)
	if err != nil {
		return fmt.Errorf("update stock record: %w", err)
	}
	return nil
}

// StampCartHash сохраняет отпечаток содержимого корзины и время обновления.
func (t *cartTx) StampCartHash(ctx context.Context, cartID int64, hash string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE carts SET cart_updated_hash = $2, updated_at = now() WHERE id = $1`,
		cartID, hash,
	)
	if err != nil {
		return fmt.Errorf("stamp cart hash: %w", err)
	}
	return nil
}

// ListLineViews возвращает позиции корзины вместе с данными витрины.
func (t *cartTx) ListLineViews(ctx context.Context, cartID int64) ([]model.CartLineView, error) {
	return listLineViews(ctx, t.tx, cartID)
}

func listLineViews(ctx context.Context, q db, cartID int64) ([]model.CartLineView, error) {
	rows, err := q.Query(ctx,
		`SELECT l.id, l.kind, l.variation_id, l.quantity, l.unit_price,
		        COALESCE(p.title, ap.title, ''),
		        COALESCE(p.description, ap.description, ''),
		        COALESCE(p.image, ap.image, ''),
		        COALESCE(p.sku, ap.sku, '')
		 FROM cart_lines l
		 LEFT JOIN products p ON l.kind = 'regular' AND p.id = l.item_id
		 LEFT JOIN affiliate_products ap ON l.kind = 'affiliate' AND ap.id = l.item_id
		 WHERE l.cart_id = $1
		 ORDER BY l.id`,
		cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("select line views: %w", err)
	}
	defer rows.Close()

	views := make([]model.CartLineView, 0)
	for rows.Next() {
		var (
			v    model.CartLineView
			kind string
		)
		if err := rows.Scan(&v.ID, &kind, &v.VariationID, &v.Quantity, &v.UnitPrice, &v.Title, &v.Description, &v.Image, &v.SKU); err != nil {
			return nil, fmt.Errorf("scan line view: %w", err)
		}
		v.IsAffiliate = model.LineKind(kind) == model.KindAffiliate
		v.Subtotal = v.UnitPrice.Mul(decimal.NewFromInt(int64(v.Quantity)))
		views = append(views, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return views, nil
}
