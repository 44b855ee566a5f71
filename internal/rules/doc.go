// Package rules — Rule Evaluation Engine.
//
// Правила продукта отбираются по активности и scope tags, сортируются
// по приоритету и применяются к копии рабочего документа. Условия одной
// logical_group объединяются AND, разные группы — OR.
package rules
