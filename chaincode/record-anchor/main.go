package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/medvault/chaincode/record-anchor/recordanchor"
)

func main() {
	recordAnchorChaincode, err := contractapi.NewChaincode(&recordanchor.SmartContract{})
	if err != nil {
		log.Panicf("Error creating RecordAnchor chaincode: %v", err)
	}

	if err := recordAnchorChaincode.Start(); err != nil {
		log.Panicf("Error starting RecordAnchor chaincode: %v", err)
	}
}
