package cartstate

import (
	"fmt"

	"github.com/TheMichaelB/cartsync/internal/models"
)

// LinesFromServer transforms normalized server items into cart lines.
// Lines with a non-positive quantity are dropped and repeated ids are merged,
// so the result always satisfies the line invariants. The output depends only
// on items, which makes ReplaceFromServer idempotent.
func LinesFromServer(items []models.ServerCartItem) []models.CartLine {
	if len(items) == 0 {
		return nil
	}

	lines := make([]models.CartLine, 0, len(items))
	index := make(map[string]int, len(items))

	for pos, it := range items {
		if it.Quantity <= 0 || it.ProductID == "" {
			continue
		}

		serverID := it.ID
		uniqueID := models.LineUniqueID(it.ProductID, serverID)
		if serverID == "" {
			uniqueID = fmt.Sprintf("%s_pos%d", it.ProductID, pos)
		}

		if i, ok := index[uniqueID]; ok {
			lines[i].Quantity += it.Quantity
			continue
		}

		index[uniqueID] = len(lines)
		lines = append(lines, models.CartLine{
			ProductID:    it.ProductID,
			UniqueID:     uniqueID,
			ServerLineID: serverID,
			Name:         it.Name,
			ImageURL:     it.ImageURL,
			Quantity:     it.Quantity,
			UnitPrice:    it.Price,
			Variant:      it.Attributes.ToVariant(),
		})
	}

	if len(lines) == 0 {
		return nil
	}
	return lines
}
