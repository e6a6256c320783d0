package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const escrowABIJSON = `[
{"anonymous":false,"inputs":[{"indexed":true,"name":"id","type":"uint256"},{"indexed":true,"name":"initiator","type":"address"}],"name":"DisputeRaised","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"id","type":"uint256"},{"indexed":false,"name":"winner","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"DisputeResolved","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"id","type":"uint256"},{"indexed":true,"name":"buyer","type":"address"},{"indexed":true,"name":"seller","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"token","type":"address"}],"name":"EscrowCreated","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"id","type":"uint256"},{"indexed":false,"name":"amountReleased","type":"uint256"},{"indexed":false,"name":"feeTaken","type":"uint256"}],"name":"MilestoneReleased","type":"event"},
{"anonymous":false,"inputs":[{"indexed":true,"name":"id","type":"uint256"}],"name":"OrderCancelled","type":"event"},
{"inputs":[{"name":"_orderId","type":"uint256"}],"name":"cancelOrder","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"_seller","type":"address"},{"name":"_token","type":"address"},{"name":"_amount","type":"uint256"}],"name":"createEscrow","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[],"name":"escrowCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"","type":"uint256"}],"name":"escrows","outputs":[
 {"name":"id","type":"uint256"},{"name":"buyer","type":"address"},{"name":"seller","type":"address"},{"name":"token","type":"address"},
 {"name":"totalAmount","type":"uint256"},{"name":"lockedBalance","type":"uint256"},
 {"name":"isAccepted","type":"bool"},{"name":"isShipped","type":"bool"},{"name":"isDisputed","type":"bool"},{"name":"isCompleted","type":"bool"},
 {"name":"createdAt","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"_orderId","type":"uint256"}],"name":"raiseDispute","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"_orderId","type":"uint256"},{"name":"_amountToRelease","type":"uint256"}],"name":"releaseMilestone","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"_orderId","type":"uint256"},{"name":"_winner","type":"address"}],"name":"resolveDispute","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const erc20ABIJSON = `[
{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	escrowABI = mustParseABI(escrowABIJSON)
	erc20ABI  = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
